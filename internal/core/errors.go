package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatState      ErrorCategory = "state"      // Invalid lifecycle transition
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatTransport  ErrorCategory = "transport"  // Stream/connection failure
	ErrCatCommand    ErrorCategory = "command"    // Backend rejected a command
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Backend rate limited
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates an invalid-transition error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrTransport creates a transport error. Transport failures are retryable
// from the caller's perspective; the engine itself never retries.
func ErrTransport(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTransport,
		Code:      CodeTransportFailed,
		Message:   message,
		Retryable: true,
	}
}

// ErrCommand creates an error for a command the backend rejected.
func ErrCommand(command, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCommand,
		Code:      CodeCommandRejected,
		Message:   message,
		Retryable: false,
		Details:   map[string]interface{}{"command": command},
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      CodeAuthFailed,
		Message:   message,
		Retryable: false,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeNotFound          = "NOT_FOUND"
	CodeEmptyRunID        = "EMPTY_RUN_ID"
	CodeEmptyStory        = "EMPTY_STORY"
	CodeEmptyStep         = "EMPTY_STEP"
	CodeMalformedEvent    = "MALFORMED_EVENT"
	CodeInvalidPolicy     = "INVALID_POLICY"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeTransportFailed   = "TRANSPORT_FAILED"
	CodeCommandRejected   = "COMMAND_REJECTED"
	CodeTimeout           = "TIMEOUT"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeBackendMissing    = "BACKEND_NOT_CONFIGURED"
)
