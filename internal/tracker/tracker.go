package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies a tracker transition.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventRetrying  EventKind = "retrying"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCanceled  EventKind = "canceled"
)

// Event is delivered to listeners on every observable change of a session.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Message  *Message
	Result   *AnalysisResult
	Err      error
}

// Terminal reports whether the event ends its session.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed || e.Kind == EventCanceled
}

// Listener receives tracker events on the session goroutine.
// Listeners must not call Start or Stop on the tracker that invoked them.
type Listener func(Event)

// session is one polling run for one job id.
// done closes when the poll loop exits; finished closes once the session is fully settled.
type session struct {
	jobID      string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	finished   chan struct{}
	finishOnce sync.Once
	stopping   bool
	seq        uint64
	terminal   bool
}

func (s *session) finish() {
	s.finishOnce.Do(func() { close(s.finished) })
}

// Tracker polls the analysis backend for a single job at a time
type Tracker struct {
	backend   Backend
	cfg       Config
	logger    *slog.Logger
	listeners []Listener

	// opMu serialises Start and Stop
	opMu sync.Mutex

	mu       sync.Mutex
	session  *session
	snapshot Snapshot
	lastSeq  uint64
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a tracker. Zero fields in cfg fall back to DefaultConfig.
func New(backend Backend, cfg Config, logger *slog.Logger, listeners ...Listener) *Tracker {
	return &Tracker{
		backend:   backend,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		listeners: listeners,
	}
}

// Start begins polling jobID, replacing any session already running.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.stopLocked()

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		jobID:    jobID,
		ctx:      sessCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	t.mu.Lock()
	t.session = s
	t.snapshot = Snapshot{
		JobID:     jobID,
		State:     StateTracking,
		Status:    StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
	t.mu.Unlock()

	t.logger.Info("Tracking started",
		slog.String("job_id", jobID),
		slog.Duration("interval", t.cfg.Interval),
		slog.Int("max_retries", t.cfg.MaxRetries),
	)

	go t.run(s)
	return nil
}

// Stop cancels the active session and waits for it to exit. It is a no-op when idle.
func (t *Tracker) Stop() {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	t.mu.Lock()
	s := t.session
	if s != nil {
		s.stopping = true
	}
	t.mu.Unlock()
	if s == nil {
		return
	}
	defer s.finish()

	s.cancel()
	<-s.done

	t.mu.Lock()
	wasTerminal := s.terminal
	s.terminal = true
	if !wasTerminal {
		t.snapshot.State = StateCanceled
		t.snapshot.UpdatedAt = time.Now().UTC()
	}
	snap := t.snapshot
	t.session = nil
	t.mu.Unlock()

	if wasTerminal {
		return
	}

	t.logger.Info("Tracking canceled", slog.String("job_id", s.jobID))
	msg := CanceledMessage()
	t.notify(Event{
		Kind:     EventCanceled,
		Snapshot: snap,
		Message:  &msg,
		Err:      context.Canceled,
	})
}

// Done returns a channel closed when the current session ends.
// After a Stop it closes only once the canceled event has been delivered.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return closedChan
	}
	return t.session.finished
}

// Snapshot returns the latest observable state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

func (t *Tracker) run(s *session) {
	defer func() {
		close(s.done)
		t.mu.Lock()
		stopping := s.stopping
		t.mu.Unlock()
		if !stopping {
			s.finish()
		}
	}()

	state := newPollState(t.cfg)
	seenUnknown := make(map[string]bool)
	quietTicks := 0

	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		seq := t.nextSeq(s)
		report, err := t.backend.GetProgress(s.ctx, s.jobID)
		if !t.current(s, seq) {
			return
		}

		if err != nil {
			if t.cfg.FailFastOnNotFound && IsNotFound(err) {
				state.displayed = 0
				t.fail(s, state, fmt.Errorf("%w: job not found: %w", ErrAnalysisFailed, err))
				return
			}

			if state.fail() == outcomeExhausted {
				t.logger.Error("Giving up on analysis backend",
					slog.String("job_id", s.jobID),
					slog.Int("retry_count", state.retryCount),
					slog.Any("error", err),
				)
				t.fail(s, state, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, state.retryCount, err))
				return
			}

			delay := state.nextDelay()
			t.logger.Warn("Progress request failed, retrying",
				slog.String("job_id", s.jobID),
				slog.Int("retry_count", state.retryCount),
				slog.Int("max_retries", t.cfg.MaxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			t.emit(s, Event{Kind: EventRetrying, Snapshot: t.build(s, state, StateTracking, err), Err: err})
			quietTicks = 0
			timer.Reset(delay)
			continue
		}

		if _, perr := ParseStatus(report.Status); perr != nil && !seenUnknown[report.Status] {
			seenUnknown[report.Status] = true
			t.logger.Warn("Backend reported an unrecognised status",
				slog.String("job_id", s.jobID),
				slog.String("status", report.Status),
			)
		}

		prev := state.displayed
		prevRetries := state.retryCount
		result, startedNow := state.observe(report)

		switch result {
		case outcomeFailed:
			t.fail(s, state, ErrAnalysisFailed)
			return
		case outcomeCompleted:
			t.complete(s, state)
			return
		}

		quietTicks++
		switch {
		case startedNow:
			t.logger.Info("Analysis started",
				slog.String("job_id", s.jobID),
				slog.Int("progress", state.displayed),
				slog.Int("initial_check_count", state.initialCheckCount),
			)
			t.emit(s, Event{
				Kind:     EventStarted,
				Snapshot: t.build(s, state, StateTracking, nil),
				Message:  &Message{Kind: MessageInfo, Body: msgStarted},
			})
			quietTicks = 0
		case state.displayed != prev || prevRetries != 0 || quietTicks >= t.cfg.KeepAliveTicks:
			// unchanged ticks still surface now and then so observers see the check count move
			t.emit(s, Event{Kind: EventProgress, Snapshot: t.build(s, state, StateTracking, nil)})
			quietTicks = 0
		default:
			t.record(s, t.build(s, state, StateTracking, nil))
		}

		timer.Reset(state.nextDelay())
	}
}

// complete publishes 100%, waits for the settle delay, then fetches results exactly once.
func (t *Tracker) complete(s *session, state *pollState) {
	t.emit(s, Event{Kind: EventProgress, Snapshot: t.build(s, state, StateTracking, nil)})

	if t.cfg.SettleDelay > 0 {
		settle := time.NewTimer(t.cfg.SettleDelay)
		select {
		case <-s.ctx.Done():
			settle.Stop()
			return
		case <-settle.C:
		}
	}

	seq := t.nextSeq(s)
	result, err := t.backend.GetResult(s.ctx, s.jobID)
	if !t.current(s, seq) {
		return
	}

	var msg Message
	if err != nil {
		t.logger.Warn("Analysis completed but results could not be loaded",
			slog.String("job_id", s.jobID),
			slog.Any("error", err),
		)
		err = fmt.Errorf("%w: %w", ErrResultUnavailable, err)
		result = nil
		msg = CompletionMessage(nil)
	} else {
		msg = CompletionMessage(result)
	}

	snap := t.build(s, state, StateCompleted, err)
	if result != nil {
		snap.EventCount = len(result.Events)
	}

	t.logger.Info("Analysis completed",
		slog.String("job_id", s.jobID),
		slog.Int("event_count", snap.EventCount),
		slog.Bool("degraded", err != nil),
	)

	t.emit(s, Event{
		Kind:     EventCompleted,
		Snapshot: snap,
		Message:  &msg,
		Result:   result,
		Err:      err,
	})
}

func (t *Tracker) fail(s *session, state *pollState, err error) {
	if errors.Is(err, ErrAnalysisFailed) {
		t.logger.Warn("Analysis reported as failed",
			slog.String("job_id", s.jobID),
			slog.Any("error", err),
		)
	}

	msg := failureMessage(err)
	t.emit(s, Event{
		Kind:     EventFailed,
		Snapshot: t.build(s, state, StateFailed, err),
		Message:  &msg,
		Err:      err,
	})
}

func (t *Tracker) build(s *session, state *pollState, st State, err error) Snapshot {
	snap := Snapshot{
		JobID:             s.jobID,
		State:             st,
		Progress:          state.displayed,
		Status:            state.status,
		RawStatus:         state.rawStatus,
		HasStarted:        state.hasStarted,
		RetryCount:        state.retryCount,
		InitialCheckCount: state.initialCheckCount,
		UpdatedAt:         time.Now().UTC(),
	}
	if err != nil {
		snap.LastError = err.Error()
	}
	return snap
}

func (t *Tracker) nextSeq(s *session) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeq++
	s.seq = t.lastSeq
	return s.seq
}

// current reports whether a response issued with seq may still be applied.
func (t *Tracker) current(s *session, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session == s && !s.terminal && s.ctx.Err() == nil && seq == t.lastSeq
}

// record updates the snapshot without notifying listeners.
func (t *Tracker) record(s *session, snap Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != s || s.terminal || s.ctx.Err() != nil {
		return false
	}
	t.snapshot = snap
	return true
}

// emit applies an event's snapshot and notifies listeners unless the session is stale.
func (t *Tracker) emit(s *session, ev Event) {
	t.mu.Lock()
	if t.session != s || s.terminal || s.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	if from := t.snapshot.State; !CanTransition(from, ev.Snapshot.State) {
		t.mu.Unlock()
		t.logger.Error("Dropping event with invalid state transition",
			slog.String("job_id", s.jobID),
			slog.String("from", string(from)),
			slog.String("to", string(ev.Snapshot.State)),
		)
		return
	}
	t.snapshot = ev.Snapshot
	if ev.Terminal() {
		s.terminal = true
	}
	t.mu.Unlock()

	t.notify(ev)
}

func (t *Tracker) notify(ev Event) {
	for _, l := range t.listeners {
		l(ev)
	}
}
