// Package domainerrors provides coded errors shared across service and
// transport layers. Stores return sentinel errors (pkg/platform/sentinel);
// services translate them into coded errors; handlers map codes onto HTTP
// statuses without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and retry policy.
type Code string

const (
	// CodeBadRequest marks invalid input. Shown inline to the caller.
	CodeBadRequest Code = "bad_request"
	// CodeUnauthorized marks a missing or expired credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks a rejected request (CSRF mismatch, ownership).
	CodeForbidden Code = "forbidden"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a state conflict requiring explicit user action.
	CodeConflict Code = "conflict"
	// CodeRateLimited carries a backoff hint from the service.
	CodeRateLimited Code = "rate_limited"
	// CodeInvalidToken is the deliberately undifferentiated rejection for
	// magic-link and OAuth state failures (expired, used, unknown, malformed).
	CodeInvalidToken Code = "invalid_token"
	// CodeUnavailable marks a transient transport or dependency failure.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout marks an exhausted budget, distinct from failure.
	CodeTimeout Code = "timeout"
	// CodeInternal marks everything else.
	CodeInternal Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err has none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
