package tberrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so the HTTP edge can map it to a status code and
// the reconciler can decide whether a failure is fatal for the whole tick.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindForbidden
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindBackend:
		return "backend_error"
	default:
		return "internal"
	}
}

// Error is the single error type crossing service boundaries. The wrapped
// cause is kept for logging but never serialized to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error kind to the response status used by the API.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

func NewNotFound(format string, a ...any) *Error     { return newError(KindNotFound, format, a...) }
func NewInvalidInput(format string, a ...any) *Error { return newError(KindInvalidInput, format, a...) }
func NewConflict(format string, a ...any) *Error     { return newError(KindConflict, format, a...) }
func NewForbidden(format string, a ...any) *Error    { return newError(KindForbidden, format, a...) }
func NewInternal(format string, a ...any) *Error     { return newError(KindInternal, format, a...) }

// NewBackend wraps a failure talking to Slurm or Tower. Non-fatal at service
// scope: the reconciler downgrades it to an ERROR status on the one analysis.
func NewBackend(err error, format string, a ...any) *Error {
	return &Error{Kind: KindBackend, Message: fmt.Sprintf(format, a...), Err: err}
}

// Wrap attaches a cause to a kinded error.
func Wrap(err error, kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
func IsForbidden(err error) bool    { return KindOf(err) == KindForbidden }
func IsBackend(err error) bool      { return KindOf(err) == KindBackend }

// HTTPStatusCode returns the status code for any error, defaulting to 500.
func HTTPStatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
