package domain

import "errors"

var (
	// ErrInsufficientBalance is returned when the user cannot cover the
	// job's credit cost. No side effects are committed when it fires.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrUserNotFound is returned when the user does not exist in the ledger.
	ErrUserNotFound = errors.New("user not found")

	// ErrJobNotFound is returned when a job is absent or belongs to
	// another user; the two cases are indistinguishable to the caller.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueUnavailable is returned when the work queue rejects a
	// submission. It is fatal to the submit operation.
	ErrQueueUnavailable = errors.New("work queue unavailable")

	// ErrInvalidPayload is returned when a job payload fails validation
	// or cannot be decoded.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned for a job type outside the closed set.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrStaleUpdate marks an update message for a job already in a
	// terminal state. It is logged, never surfaced to the publisher.
	ErrStaleUpdate = errors.New("stale update for terminal job")
)

// RetryableError wraps transient worker failures that should be retried
// under the job type's dispatch policy.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
