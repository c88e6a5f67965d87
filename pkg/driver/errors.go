package driver

import (
	"context"
	"errors"
	"net"
)

// Standardized driver-level error types. Drivers translate their internal
// failures into these so the layers above never depend on a concrete driver.
var (
	// ErrNoDocuments is returned by FindOne when nothing matches the filter.
	ErrNoDocuments = errors.New("no documents in result")

	// ErrCursorDrained is returned by Cursor.Next once the result set is
	// exhausted. It marks normal termination, not a failure.
	ErrCursorDrained = errors.New("cursor drained")

	// ErrOperationTimeout is returned when a single driver call exceeded its
	// deadline. It is transient: the caller may retry the operation, remora
	// itself never does.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrConnectionModeMismatch is returned when an operation requiring one
	// connection mode is invoked against the other (for example asking a
	// sync connection for an async cursor handle). This is a programming
	// error and is never retried.
	ErrConnectionModeMismatch = errors.New("connection mode mismatch")

	// ErrSessionEnded is returned when an operation is attempted with a
	// session that has already been ended.
	ErrSessionEnded = errors.New("session already ended")
)

// TranslateError converts low-level driver and context errors into the
// standardized errors above. Unknown errors are returned unchanged, so
// callers can still unwrap driver-specific detail when they need it.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrOperationTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrOperationTimeout, err)
	}

	return err
}

// IsRetryable reports whether an error is transient from remora's point of
// view. Only timeouts qualify; misuse errors (mode mismatch, cursor reuse,
// nested transactions) must fail fast.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOperationTimeout)
}
