// Package apperrors defines the typed, user-safe errors returned by the escrow engine.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeStaleState        Code = "STALE_STATE"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeInternal          Code = "INTERNAL"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Code == CodeInternal {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStaleState:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid transition")
	ErrNotFound          = New(CodeNotFound, "not found or not permitted")
	ErrStaleState        = New(CodeStaleState, "transaction changed concurrently")
	ErrUnavailable       = New(CodeUnavailable, "dependency unavailable")
)

func InvalidTransition(message string) *Error { return New(CodeInvalidTransition, message) }
func Unauthorized(message string) *Error      { return New(CodeUnauthorized, message) }
func Validation(message string) *Error        { return New(CodeValidation, message) }

// NotFound never names the resource, so non-parties learn nothing about existence.
func NotFound() *Error { return New(CodeNotFound, "not found or not permitted") }

func StaleState(message string) *Error { return New(CodeStaleState, message) }

func Internal(message string, cause error) *Error { return Wrap(CodeInternal, message, cause) }

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
