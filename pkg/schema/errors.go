package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeTransient   = "TRANSIENT_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
	ErrCodeExecution   = "EXECUTION_ERROR"
)

// WorkflowError is the structured error type for all docflow operations.
type WorkflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new WorkflowError.
func NewError(code, message string) *WorkflowError {
	return &WorkflowError{Code: code, Message: message}
}

// NewErrorf creates a new WorkflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *WorkflowError {
	return &WorkflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *WorkflowError) WithCause(err error) *WorkflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WorkflowError) WithDetails(details map[string]any) *WorkflowError {
	e.Details = details
	return e
}

// HasCode reports whether any WorkflowError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var wfErr *WorkflowError
		if !errors.As(err, &wfErr) {
			return false
		}
		if wfErr.Code == code {
			return true
		}
		err = wfErr.Cause
	}
	return false
}

// IsTransient reports whether err is worth retrying by redelivering the document.
func IsTransient(err error) bool {
	return HasCode(err, ErrCodeTransient) || HasCode(err, ErrCodeCircuitOpen)
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}
