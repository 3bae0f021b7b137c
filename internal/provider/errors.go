package provider

import "fmt"

// ErrorType categorizes provider failures. Launch and transport failures are
// retryable against the iteration's retry budget; the rest are not.
type ErrorType string

const (
	ErrorTypeLaunch      ErrorType = "launch"
	ErrorTypeTransport   ErrorType = "transport"
	ErrorTypeBadResponse ErrorType = "bad_response"
	ErrorTypeNotFound    ErrorType = "not_found"
)

// Error is a structured error from the provider API.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a retry is likely to succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeLaunch, ErrorTypeTransport:
		return true
	default:
		return false
	}
}

func newLaunchError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeLaunch, Message: message, Cause: cause}
}

func newTransportError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeTransport, Message: message, Cause: cause}
}

func newBadResponseError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeBadResponse, Message: message, Cause: cause}
}

func newNotFoundError(message string) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: message}
}
