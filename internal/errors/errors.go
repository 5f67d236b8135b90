package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for stela.
// It provides rich context for error handling, logging, and API responses.
type Error struct {
	// Code is the stable snake_case error code (e.g., "index_not_found").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the error kind (NotFound, AlreadyExists, etc.).
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Kind, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message. If err is already an
// *Error it is returned unchanged so codes assigned close to the failure
// are not overwritten upstream.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return New(code, err.Error(), err)
}

// IndexNotFound creates a lookup error for an unknown index uid.
func IndexNotFound(uid string) *Error {
	return Newf(CodeIndexNotFound, "index %q not found", uid).WithDetail("uid", uid)
}

// IndexAlreadyExists creates a conflict error for a duplicate index uid.
func IndexAlreadyExists(uid string) *Error {
	return Newf(CodeIndexAlreadyExists, "index %q already exists", uid).WithDetail("uid", uid)
}

// Unavailable creates a lifecycle error for a component that has shut down.
// Calls that race a shutdown receive this instead of blocking forever.
func Unavailable(component string) *Error {
	return Newf(CodeActorUnavailable, "%s is not running", component)
}

// ValidationError creates a validation error.
func ValidationError(message string, cause error) *Error {
	return New(CodeInvalidIndexUID, message, cause)
}

// TransportError creates a payload transport error.
// Transport errors are retryable by the client.
func TransportError(message string, cause error) *Error {
	return New(CodePayloadAborted, message, cause)
}

// EngineError creates an index engine error.
func EngineError(message string, cause error) *Error {
	return New(CodeEngineFailed, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(CodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(CodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an Error with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*Error); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*Error); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an Error.
// Returns empty string if not an Error.
func GetCode(err error) string {
	if se, ok := err.(*Error); ok {
		return se.Code
	}
	return ""
}

// KindOf extracts the kind from an Error anywhere in the chain.
// Returns KindInternal for foreign errors so transport mapping stays total.
func KindOf(err error) Kind {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// HasKind reports whether err carries an Error of the given kind.
func HasKind(err error, kind Kind) bool {
	var se *Error
	return stderrors.As(err, &se) && se.Kind == kind
}
