package lock

import (
	"errors"
	"fmt"
)

// Common errors for distributed locking operations.
var (
	// ErrTransport is returned when a call to the remote lock service could not complete.
	ErrTransport = errors.New("lock service unavailable")

	// ErrNotAcquired is returned when another owner holds the lock and the retry budget is spent.
	ErrNotAcquired = errors.New("lock not acquired")
)

// NotAcquiredError reports a lock that stayed in conflict for every attempt.
type NotAcquiredError struct {
	Lock     string
	Attempts int
}

func (e *NotAcquiredError) Error() string {
	return fmt.Sprintf("could not obtain lock %s after %d attempt(s)", e.Lock, e.Attempts)
}

// Is lets errors.Is match NotAcquiredError against ErrNotAcquired.
func (e *NotAcquiredError) Is(target error) bool {
	return target == ErrNotAcquired
}

// UnexpectedStatusError is returned by HTTPClient for status codes outside the
// lock service contract. It unwraps to ErrTransport.
type UnexpectedStatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d", e.Method, e.URL, e.Code)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return ErrTransport
}

// transportError tags err as a transport failure of op on the named lock.
func transportError(op, name string, err error) error {
	if errors.Is(err, ErrTransport) {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, name, ErrTransport, err)
}
