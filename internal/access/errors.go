package access

import (
	"errors"
	"fmt"
)

// Error kinds shared by the access package and the permission workflow.
// Compare with errors.Is; the concrete *Error carries a caller-facing message.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
)

// Error is a typed failure with a message safe to show to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validationf returns an ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

// Conflictf returns an ErrConflict with a formatted message.
func Conflictf(format string, args ...interface{}) error {
	return newError(ErrConflict, format, args...)
}

// Forbiddenf returns an ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...interface{}) error {
	return newError(ErrForbidden, format, args...)
}

// InvalidStatef returns an ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...interface{}) error {
	return newError(ErrInvalidState, format, args...)
}

// NotFoundf returns an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

// Message returns the caller-facing message of err if it is an *Error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return ""
}
