// Package apperr defines the error taxonomy shared by every component.
//
// Errors carry a Kind that maps onto an HTTP status and a client-safe
// message. The HTTP layer serializes any error into the wire envelope
// {"error": string, "status": int}; unclassified errors become 500.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindBadRequest     Kind = "bad_request"
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUnavailable    Kind = "engine_unavailable"
	KindEngineFailure  Kind = "engine_failure"
	KindIOFailure      Kind = "io_failure"
	KindTimeout        Kind = "timeout"
	KindNotImplemented Kind = "not_implemented"
	KindInternal       Kind = "internal"
)

// httpStatus maps each kind onto its HTTP status code.
func (k Kind) httpStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindEngineFailure, KindIOFailure:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with a client-safe message.
// The JSON form is exactly the wire envelope.
type Error struct {
	Kind    Kind   `json:"-"`
	Message string `json:"error"`
	Status  int    `json:"status"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// GetStatus implements huma.StatusError.
func (e *Error) GetStatus() int { return e.Status }

// ContentType implements huma.ContentTypeFilter so the envelope is emitted
// as plain application/json rather than problem+json.
func (e *Error) ContentType(string) string { return "application/json" }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Status: kind.httpStatus()}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a classified error wrapping a cause. The cause is preserved
// for logging and errors.Is but never reaches the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Status: kind.httpStatus(), cause: cause}
}

// Wrapf creates a classified error with a formatted message wrapping a cause.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, fmt.Sprintf(format, args...), cause)
}

// Convenience constructors for the common kinds.

func BadRequest(message string) *Error  { return New(KindBadRequest, message) }
func BadRequestf(format string, args ...any) *Error {
	return Newf(KindBadRequest, format, args...)
}
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func NotFoundf(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}
func Conflict(message string) *Error    { return New(KindConflict, message) }
func Unavailable(message string) *Error { return New(KindUnavailable, message) }
func Unavailablef(format string, args ...any) *Error {
	return Newf(KindUnavailable, format, args...)
}
func EngineFailure(message string) *Error { return New(KindEngineFailure, message) }
func EngineFailuref(format string, args ...any) *Error {
	return Newf(KindEngineFailure, format, args...)
}
func IOFailure(message string) *Error { return New(KindIOFailure, message) }
func IOFailuref(format string, args ...any) *Error {
	return Newf(KindIOFailure, format, args...)
}
func Timeout(message string) *Error        { return New(KindTimeout, message) }
func Timeoutf(format string, args ...any) *Error {
	return Newf(KindTimeout, format, args...)
}
func NotImplemented(message string) *Error { return New(KindNotImplemented, message) }
func Internal(message string) *Error       { return New(KindInternal, message) }

// KindOf extracts the kind of an error, or KindInternal when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf extracts the HTTP status of an error, or 500 when unclassified.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// MessageOf extracts the client-safe message of an error. Unclassified
// errors expose their text, matching the service's single-operator model.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return "internal error"
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
