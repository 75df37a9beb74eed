// Package errors defines the error taxonomy shared by every core component.
// Public operations return exactly one Kind on failure; raw provider errors
// never cross a package boundary unwrapped.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Kind tags an error with one of the failure classes the plane surfaces.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindAlreadyRunning     Kind = "ALREADY_RUNNING"
	KindAlreadyInitialized Kind = "ALREADY_INITIALIZED"
	KindDenied             Kind = "DENIED"
	KindPrecondition       Kind = "PRECONDITION"
	KindExternal           Kind = "EXTERNAL"
	KindTimeout            Kind = "TIMEOUT"
	KindCancelled          Kind = "CANCELLED"
	KindInternal           Kind = "INTERNAL"
)

// Error is the structured error returned by core operations.
type Error struct {
	Kind    Kind
	Message string
	// Details carries a safe, non-secret payload (failing file path,
	// git stderr head, model id). Never credentials.
	Details map[string]any
	// CorrelationID is set for INTERNAL errors so logs and API responses
	// can be matched up.
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns the error with one detail entry added.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NotFound creates a NOT_FOUND error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// AlreadyExists creates an ALREADY_EXISTS error.
func AlreadyExists(resource, id string) *Error {
	return &Error{
		Kind:    KindAlreadyExists,
		Message: fmt.Sprintf("%s already exists: %s", resource, id),
	}
}

// AlreadyRunning creates an ALREADY_RUNNING error.
func AlreadyRunning(resource, id string) *Error {
	return &Error{
		Kind:    KindAlreadyRunning,
		Message: fmt.Sprintf("%s already running: %s", resource, id),
	}
}

// AlreadyInitialized creates an ALREADY_INITIALIZED error.
func AlreadyInitialized(message string) *Error {
	return &Error{Kind: KindAlreadyInitialized, Message: message}
}

// Denied creates a DENIED error with the resolver's reason.
func Denied(reason string) *Error {
	return &Error{Kind: KindDenied, Message: reason}
}

// Precondition creates a PRECONDITION error for invalid input or state.
func Precondition(message string) *Error {
	return &Error{Kind: KindPrecondition, Message: message}
}

// Preconditionf creates a PRECONDITION error with a formatted message.
func Preconditionf(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// External wraps an underlying git/container/LLM failure.
func External(message string, err error) *Error {
	return &Error{Kind: KindExternal, Message: message, Err: err}
}

// Timeout creates a TIMEOUT error.
func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// Cancelled creates a CANCELLED error.
func Cancelled(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

// Internal wraps a bug-shaped failure. A correlation id is attached so the
// API response can be matched with the stack-traced log line.
func Internal(message string, err error) *Error {
	return &Error{
		Kind:          KindInternal,
		Message:       message,
		CorrelationID: uuid.New().String(),
		Err:           err,
	}
}

// FromContextErr maps a context error to CANCELLED or TIMEOUT. Returns nil
// if err is not a context error.
func FromContextErr(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled("operation cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout("operation timed out")
	}
	return nil
}

// Wrap preserves an existing Kind if err is already an *Error, otherwise
// wraps it as INTERNAL.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return &Error{
			Kind:          appErr.Kind,
			Message:       message,
			Details:       appErr.Details,
			CorrelationID: appErr.CorrelationID,
			Err:           err,
		}
	}
	return Internal(message, err)
}

// KindOf extracts the Kind from any error. Unclassified errors are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsNotFound reports whether the error carries NOT_FOUND.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsDenied reports whether the error carries DENIED.
func IsDenied(err error) bool { return KindOf(err) == KindDenied }

// IsAlreadyRunning reports whether the error carries ALREADY_RUNNING.
func IsAlreadyRunning(err error) bool { return KindOf(err) == KindAlreadyRunning }

// IsPrecondition reports whether the error carries PRECONDITION.
func IsPrecondition(err error) bool { return KindOf(err) == KindPrecondition }

// IsCancelled reports whether the error carries CANCELLED.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// IsTimeout reports whether the error carries TIMEOUT.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// HTTPStatus maps a Kind to the status code used by the HTTP boundary.
// This is the single place error kinds translate to transport codes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindAlreadyRunning, KindAlreadyInitialized:
		return http.StatusConflict
	case KindDenied:
		return http.StatusForbidden
	case KindPrecondition:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499 // client closed request
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
