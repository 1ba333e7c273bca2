package worker

import "errors"

var (
	// ErrInvalidSubmission is returned when a submission message cannot be decoded
	ErrInvalidSubmission = errors.New("invalid submission message")

	// ErrShutdown is returned when tracking stopped because the worker is shutting down
	ErrShutdown = errors.New("worker shutting down")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
