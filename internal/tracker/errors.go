package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidJobID is returned when a job id is empty or cannot be used in a URL path
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrUnknownStatus is returned when the backend reports a status outside the known set
	ErrUnknownStatus = errors.New("unknown analysis status")

	// ErrAnalysisFailed is the terminal error for a job the backend reported as failed
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrRetriesExhausted is the terminal error after too many consecutive transport failures
	ErrRetriesExhausted = errors.New("retry limit exceeded")

	// ErrResultUnavailable marks a completed job whose results could not be fetched
	ErrResultUnavailable = errors.New("analysis result unavailable")

	// ErrTooManySessions is returned when a manager is already at its concurrency limit
	ErrTooManySessions = errors.New("too many tracking sessions")

	// ErrNotTracked is returned when a manager has no session for a job id
	ErrNotTracked = errors.New("job is not tracked")
)

// TransportError wraps any failure to obtain a well-formed response from the backend:
// network errors, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the backend answered 404 for the job.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a TransportError for an unknown job.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.NotFound()
}
