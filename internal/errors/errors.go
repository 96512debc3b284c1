package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Dayloom error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE" // 422
	ErrEmptyResult       ErrorCode = "EMPTY_RESULT"       // 422
	ErrUpstream          ErrorCode = "UPSTREAM"           // 502
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing entity.
func NewNotFound(kind string, id any) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %v", kind, id),
		Details: map[string]any{"kind": kind, "identifier": id},
	}
}

// NewConflict creates a 409 error, e.g. for an illegal status transition.
func NewConflict(msg string) *Error {
	return &Error{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewMalformedResponse creates a 422 error for model output that failed validation.
func NewMalformedResponse(format string, args ...any) *Error {
	return &Error{
		Code:    ErrMalformedResponse,
		Status:  422,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewEmptyResult creates a 422 error for a model response that yielded nothing usable.
func NewEmptyResult(msg string) *Error {
	return &Error{
		Code:    ErrEmptyResult,
		Status:  422,
		Message: msg,
	}
}

// NewUpstream creates a 502 error wrapping the last failure of an external call.
func NewUpstream(operation string, attempts int, err error) *Error {
	msg := "upstream call failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrUpstream,
		Status:  502,
		Message: fmt.Sprintf("%s failed after %d attempt(s): %s", operation, attempts, msg),
		Details: map[string]any{"operation": operation, "attempts": attempts},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
