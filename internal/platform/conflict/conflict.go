// Package conflict defines the error taxonomy shared by the scheduling and
// clinical record packages. Every rejection the core produces is a *Error
// carrying a Kind; the HTTP layer maps kinds to status codes.
package conflict

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a rejected operation.
type Kind string

const (
	InvalidRange      Kind = "invalid_range"
	Invalid           Kind = "invalid"
	DoctorUnavailable Kind = "doctor_unavailable"
	DoubleBooked      Kind = "double_booked"
	InvalidTransition Kind = "invalid_transition"
	NoteSigned        Kind = "note_signed"
	AlreadySigned     Kind = "already_signed"
	NotSigned         Kind = "not_signed"
	VersionMismatch   Kind = "version_mismatch"
	AlreadyExists     Kind = "already_exists"
	NotFound          Kind = "not_found"
	Forbidden         Kind = "forbidden"
	LockTimeout       Kind = "lock_timeout"
	Unavailable       Kind = "unavailable"
)

// Sentinels for errors.Is comparisons. Two errors match when their kinds do.
var (
	ErrInvalidRange      = &Error{Kind: InvalidRange}
	ErrInvalid           = &Error{Kind: Invalid}
	ErrDoctorUnavailable = &Error{Kind: DoctorUnavailable}
	ErrDoubleBooked      = &Error{Kind: DoubleBooked}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrNoteSigned        = &Error{Kind: NoteSigned}
	ErrAlreadySigned     = &Error{Kind: AlreadySigned}
	ErrNotSigned         = &Error{Kind: NotSigned}
	ErrVersionMismatch   = &Error{Kind: VersionMismatch}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrForbidden         = &Error{Kind: Forbidden}
	ErrLockTimeout       = &Error{Kind: LockTimeout}
	ErrUnavailable       = &Error{Kind: Unavailable}
)

// Error is a classified failure. Msg is safe to show to API clients; Err is
// the underlying cause, if any, and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return string(e.Kind)
	}
	return err.Error()
}

// Retryable reports whether the caller may safely resubmit the same request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case LockTimeout, Unavailable:
		return true
	}
	return false
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidRange, Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case DoctorUnavailable, DoubleBooked, InvalidTransition, NoteSigned, AlreadySigned,
		NotSigned, VersionMismatch, AlreadyExists, LockTimeout:
		return http.StatusConflict
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
