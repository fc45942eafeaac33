package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for cross-layer signaling. Services wrap them with context;
// the HTTP layer maps them to a status and a stable code with errors.Is.
var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrUnauthenticated covers bad credentials and missing, malformed or expired tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInsufficientFunds is returned when a pot or balance sufficiency check fails.
	ErrInsufficientFunds = errors.New("insufficient_funds")
	// ErrStale means a row changed between the read a write was computed from
	// and the atomic unit that applies it. Callers retry.
	ErrStale = errors.New("stale")
)

// Error pairs a sentinel with a message that is safe to show to API callers.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

// Invalid returns an ErrInvalid carrying a caller-facing message.
func Invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalid, Msg: fmt.Sprintf(format, args...)}
}

// Unauthenticated returns an ErrUnauthenticated carrying msg.
func Unauthenticated(msg string) error {
	return &Error{Kind: ErrUnauthenticated, Msg: msg}
}

// Conflict returns an ErrConflict carrying msg.
func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Msg: msg}
}

// Message returns the caller-facing message for err. Errors outside the
// taxonomy get a generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStale):
		return "resource was modified concurrently or already exists"
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ErrInvalid):
		return "invalid request"
	default:
		return "internal server error"
	}
}

// Code returns the public error code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalid):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUnauthenticated):
		return "AUTHENTICATION_ERROR"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStale):
		return "CONFLICT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	default:
		return "INTERNAL_ERROR"
	}
}
