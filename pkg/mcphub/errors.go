package mcphub

import (
	"errors"
	"fmt"
	"time"
)

// UnknownServerError reports an operation against a name that is not in the
// managed set.
type UnknownServerError struct {
	Server string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("mcphub: unknown server %q", e.Server)
}

// ServerDisabledError reports a caller-facing call against a disabled server.
// It is returned before any transport round trip is attempted.
type ServerDisabledError struct {
	Server string
}

func (e *ServerDisabledError) Error() string {
	return fmt.Sprintf("mcphub: server %q is disabled", e.Server)
}

// NotConnectedError reports a caller-facing call against a server that has no
// live session.
type NotConnectedError struct {
	Server string
	Status ConnectionStatus
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("mcphub: server %q is not connected (status %s)", e.Server, e.Status)
}

// TimeoutError reports a call that exceeded the server's configured timeout.
type TimeoutError struct {
	Server  string
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcphub: %s on server %q timed out after %s", e.Op, e.Server, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
