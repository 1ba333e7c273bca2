package tracker

import "fmt"

// Status is the analysis status reported by the backend.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// ParseStatus maps a raw backend status to a Status.
// Unrecognised values return StatusUnknown together with ErrUnknownStatus.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(raw), nil
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// State is the lifecycle state of one tracking session.
type State string

const (
	StateQueued    State = "queued"
	StateTracking  State = "tracking"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

var allowedTransitions = map[State]map[State]bool{
	"": {
		StateQueued:   true,
		StateTracking: true,
	},
	StateQueued: {
		StateTracking: true,
		StateCanceled: true,
	},
	StateTracking: {
		StateTracking:  true,
		StateCompleted: true,
		StateFailed:    true,
		StateCanceled:  true,
	},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}
