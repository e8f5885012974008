package store

import (
	"fmt"
	"net/http"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
)

// Error is a storage error with an HTTP status code.
type Error struct {
	Code    int    // HTTP status code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// DomainCode maps the storage error onto the shared error codes.
func (e *Error) DomainCode() domainerrors.Code {
	switch e.Code {
	case http.StatusNotFound:
		return domainerrors.CodeNotFound
	case http.StatusConflict:
		return domainerrors.CodeAlreadyExists
	case http.StatusBadRequest:
		return domainerrors.CodeValidation
	case http.StatusServiceUnavailable:
		return domainerrors.CodeTransient
	default:
		return domainerrors.CodeInternal
	}
}

// WithMessage returns a new error with a custom message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Code:    e.Code,
		Message: msg,
		Err:     e.Err,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is matches errors with the same status code, so a sentinel with a custom
// message still satisfies errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "record not found",
	}

	ErrAlreadyExists = &Error{
		Code:    http.StatusConflict,
		Message: "record already exists",
	}

	ErrInvalidInput = &Error{
		Code:    http.StatusBadRequest,
		Message: "invalid input",
	}

	// ErrClosed is returned after Close; callers may retry against a reopened store.
	ErrClosed = &Error{
		Code:    http.StatusServiceUnavailable,
		Message: "store closed",
	}
)

// ToDomain converts storage errors to domain errors and passes others through.
func ToDomain(err error) error {
	var se *Error
	if err == nil || !domainerrors.As(err, &se) {
		return err
	}
	return domainerrors.Wrap(err, se.DomainCode(), se.Message)
}
