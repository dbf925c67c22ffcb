package pubsub

import (
	"errors"
	"fmt"
)

// Error codes reported to clients in error events.
const (
	ErrorNoMessage      = 411
	ErrorInvalidJSON    = 412
	ErrorInvalidElement = 413
	ErrorInvalidSDP     = 414
	ErrorMissingElement = 429
	ErrorUnknown        = 499
)

var (
	ErrStopping         = errors.New("pubsub is stopping")
	ErrSessionExists    = errors.New("session already exists")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionDestroyed = errors.New("session destroyed")
	ErrSessionBound     = errors.New("session already bound to a stream")
	ErrNotSubscribed    = errors.New("session is not subscribed")
	ErrNotPublishing    = errors.New("session is not publishing")
	ErrNameExists       = errors.New("stream name exists")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrDestroyed        = errors.New("entity destroyed")
)

// Error is a failure with the code reported on the wire.
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Reason, e.Code)
}

func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsError maps any error to the code and reason sent to the client.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, ErrNameExists):
		return &Error{Code: ErrorUnknown, Reason: "Publish name exists"}
	case errors.Is(err, ErrStreamNotFound):
		return &Error{Code: ErrorUnknown, Reason: "Stream not found"}
	case errors.Is(err, ErrSessionNotFound):
		return &Error{Code: ErrorUnknown, Reason: "No session associated with this handle"}
	case errors.Is(err, ErrSessionDestroyed):
		return &Error{Code: ErrorUnknown, Reason: "Session has already been marked as destroyed"}
	case errors.Is(err, ErrSessionBound):
		return &Error{Code: ErrorUnknown, Reason: "Session already bound to a stream"}
	case errors.Is(err, ErrNotSubscribed):
		return &Error{Code: ErrorUnknown, Reason: "Session is not subscribed to a stream"}
	case errors.Is(err, ErrNotPublishing):
		return &Error{Code: ErrorUnknown, Reason: "Session is not publishing a stream"}
	case errors.Is(err, ErrStopping):
		return &Error{Code: ErrorUnknown, Reason: "Shutting down"}
	}
	return &Error{Code: ErrorUnknown, Reason: err.Error()}
}
