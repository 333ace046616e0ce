// Package apperror defines the gateway error taxonomy.
package apperror

import (
	"errors"
	"fmt"
)

// Code classifies a gateway failure.
type Code string

const (
	CodeParams         Code = "PARAMS_ERROR"
	CodeConfiguration  Code = "CONFIGURATION_ERROR"
	CodeExternalAPI    Code = "EXTERNAL_API_ERROR"
	CodeUsageLimit     Code = "USAGE_LIMIT_ERROR"
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeUnknown        Code = "UNKNOWN_ERROR"
)

// Error is a classified gateway error. Message is safe to show to end users;
// the wrapped cause may carry vendor detail and is for logs only.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two errors by code so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New constructs a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause. The cause is never rendered to end users.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the code from any error, defaulting to CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// UserMessage returns the end-user-safe message for any error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
