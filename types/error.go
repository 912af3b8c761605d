package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the store.
type ErrorCode string

const (
	// ErrConfiguration marks invalid or conflicting settings. Detected at
	// construction, fatal, never retried.
	ErrConfiguration ErrorCode = "CONFIGURATION"

	// ErrStorage marks a backend I/O failure surfaced to the caller of the
	// specific operation.
	ErrStorage ErrorCode = "STORAGE"

	// ErrValidation marks a caller-supplied invalid argument, rejected
	// synchronously before any I/O is attempted.
	ErrValidation ErrorCode = "VALIDATION"

	// ErrNotFound marks an id that no tier holds. Most read paths report
	// absence as a nil item instead; the code exists for operations that
	// must fail on a missing target (decay, strengthen).
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrTimeout marks an external backend call that exceeded its deadline.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrShutdown marks an operation issued after the component was closed.
	ErrShutdown ErrorCode = "SHUTDOWN"
)

// Error is a structured error with code, message, and optional cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// ConfigurationError builds a CONFIGURATION error.
func ConfigurationError(format string, args ...any) *Error {
	return NewError(ErrConfiguration, fmt.Sprintf(format, args...))
}

// ValidationError builds a VALIDATION error.
func ValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError builds a STORAGE error wrapping cause.
func StorageError(message string, cause error) *Error {
	return NewError(ErrStorage, message).WithCause(cause)
}

// NotFoundError builds a NOT_FOUND error for the given id.
func NotFoundError(id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("memory %q not found", id))
}

// GetErrorCode extracts the error code from an error, or "" when the error
// is not a structured *Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration reports whether err carries the CONFIGURATION code.
func IsConfiguration(err error) bool { return GetErrorCode(err) == ErrConfiguration }

// IsValidation reports whether err carries the VALIDATION code.
func IsValidation(err error) bool { return GetErrorCode(err) == ErrValidation }

// IsStorage reports whether err carries the STORAGE code.
func IsStorage(err error) bool { return GetErrorCode(err) == ErrStorage }

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrNotFound }
