// Package domainerrors defines the error vocabulary exposed by services.
// Stores return sentinel errors; services translate them into these so
// transport layers can map codes to HTTP statuses without string matching.
package domainerrors

import (
	"errors"
	"net/http"

	"openbadger/pkg/platform/sentinel"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal_error"
)

// Error carries a machine-readable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New constructs a domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a domain error that preserves the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// FromSentinel translates infrastructure sentinel errors into domain errors.
// Unknown errors become internal errors so nothing leaks to callers untyped.
func FromSentinel(err error, message string) *Error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return Wrap(CodeNotFound, message, err)
	case errors.Is(err, sentinel.ErrConflict):
		return Wrap(CodeConflict, message, err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return Wrap(CodeUnavailable, message, err)
	default:
		return Wrap(CodeInternal, message, err)
	}
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
