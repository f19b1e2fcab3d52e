package notifications

import (
	"errors"
	"fmt"
)

// ErrEmptyTarget is returned when a publisher has no destination configured.
var ErrEmptyTarget = errors.New("notification target is empty")

// PermanentError indicates a failure that will not go away on retry,
// such as a rejected or missing webhook.
type PermanentError struct {
	Driver  string
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error %d: %s", e.Driver, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Driver, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure: transport errors, rate
// limiting, or a 5xx from the receiver.
type RetryableError struct {
	Driver  string
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error %d: %s", e.Driver, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Driver, e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is marked as temporary.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}
