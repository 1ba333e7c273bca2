package tracker

import "time"

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeExhausted
)

// pollState is owned by exactly one session and never shared.
type pollState struct {
	cfg Config

	hasStarted        bool
	retryCount        int
	initialCheckCount int
	displayed         int
	status            Status
	rawStatus         string
}

func newPollState(cfg Config) *pollState {
	return &pollState{cfg: cfg, status: StatusPending}
}

// observe applies a well-formed progress report.
// It returns the outcome of the tick and whether the job counted as started on this tick.
func (s *pollState) observe(r *ProgressReport) (outcome, bool) {
	s.retryCount = 0
	s.rawStatus = r.Status
	s.status, _ = ParseStatus(r.Status)

	if !s.hasStarted {
		s.initialCheckCount++
	}

	startedNow := false
	if !s.hasStarted && (s.status == StatusProcessing || r.Progress > 0) {
		s.hasStarted = true
		startedNow = true
	}

	switch {
	case s.hasStarted:
		s.setDisplayed(r.Percent())
	case s.initialCheckCount >= s.cfg.StartCheckLimit:
		s.hasStarted = true
		startedNow = true
		s.displayed = s.cfg.ForcedStartProgress
	default:
		s.displayed = 0
	}

	// failure wins when both flags are set
	if r.IsFailed {
		s.displayed = 0
		return outcomeFailed, startedNow
	}
	if r.IsCompleted {
		s.hasStarted = true
		s.displayed = 100
		return outcomeCompleted, startedNow
	}
	return outcomeContinue, startedNow
}

// fail records one transport failure.
func (s *pollState) fail() outcome {
	s.retryCount++
	if s.retryCount >= s.cfg.MaxRetries {
		s.displayed = 0
		return outcomeExhausted
	}
	return outcomeContinue
}

// nextDelay is the wait before the next poll.
func (s *pollState) nextDelay() time.Duration {
	if s.retryCount == 0 || s.cfg.Backoff != BackoffExponential {
		return s.cfg.Interval
	}

	delay := s.cfg.BackoffInitial
	for i := 1; i < s.retryCount && delay < s.cfg.BackoffMax; i++ {
		delay *= 2
	}
	if delay > s.cfg.BackoffMax {
		delay = s.cfg.BackoffMax
	}
	return delay
}

func (s *pollState) setDisplayed(p int) {
	if s.cfg.MonotonicProgress && p < s.displayed {
		return
	}
	s.displayed = p
}
