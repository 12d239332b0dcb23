// Package errors provides coded domain errors for the notification core.
//
// Usage:
//
//	// In the registry - return typed errors
//	if !sub.Active() {
//	    return false, errors.InvalidSubscription("subscription is not registered")
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrInvalidWatchRequest) {
//	    ...
//	}
//
//	// Or switch on the Code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeInvalidSubscription:
//	    case errors.CodeNativeWatchFailure:
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeInvalidSubscription Code = "INVALID_SUBSCRIPTION"
	CodeInvalidWatchRequest Code = "INVALID_WATCH_REQUEST"
	CodeNativeWatchFailure  Code = "NATIVE_WATCH_FAILURE"
	CodeDisposed            Code = "DISPOSED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidSubscription, CodeInvalidWatchRequest:
		return http.StatusBadRequest
	case CodeDisposed:
		return http.StatusGone
	case CodeNativeWatchFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrInvalidSubscription = &Error{Code: CodeInvalidSubscription, Message: "invalid subscription"}
	ErrInvalidWatchRequest = &Error{Code: CodeInvalidWatchRequest, Message: "invalid watch request"}
	ErrNativeWatchFailure  = &Error{Code: CodeNativeWatchFailure, Message: "native watch failure"}
	ErrDisposed            = &Error{Code: CodeDisposed, Message: "disposed"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}
)

// InvalidSubscription creates an invalid subscription error.
func InvalidSubscription(msg string) *Error {
	return &Error{Code: CodeInvalidSubscription, Message: msg}
}

// InvalidWatchRequest creates an invalid watch request error.
func InvalidWatchRequest(msg string) *Error {
	return &Error{Code: CodeInvalidWatchRequest, Message: msg}
}

// InvalidWatchRequestf creates an invalid watch request error with formatted message.
func InvalidWatchRequestf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidWatchRequest, Message: fmt.Sprintf(format, args...)}
}

// InvalidWatchRequestWithDetails creates an invalid watch request error with details.
func InvalidWatchRequestWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeInvalidWatchRequest, Message: msg, Details: details}
}

// NativeWatchFailure wraps an error raised by a native watch primitive.
func NativeWatchFailure(err error, path string) *Error {
	return &Error{Code: CodeNativeWatchFailure, Message: "native watch failed for " + path, cause: err}
}

// Disposedf creates a disposed error with formatted message.
func Disposedf(format string, args ...any) *Error {
	return &Error{Code: CodeDisposed, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

