package conveyor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeValidation indicates a malformed workflow shape, caught
	// before planning.
	ErrorTypeValidation = "validation"

	// ErrorTypeDependency indicates a cycle or dangling edge reference,
	// caught at planning time before any node executes.
	ErrorTypeDependency = "dependency"

	// ErrorTypeNodeExecution indicates that an executor returned a failure
	// result or raised an error.
	ErrorTypeNodeExecution = "node_execution"

	// ErrorTypeTimeout indicates that an executor exceeded its deadline.
	ErrorTypeTimeout = "timeout"

	// ErrorTypeRetryExhausted indicates that all configured retries for a
	// node were consumed without success.
	ErrorTypeRetryExhausted = "retry_exhausted"

	// ErrorTypeCancelled indicates a run-level cancellation requested
	// mid-flight.
	ErrorTypeCancelled = "cancelled"
)

// Error represents a structured engine error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type Error struct {
	Type    string      `json:"type"`
	Cause   string      `json:"cause"`
	Details interface{} `json:"details,omitempty"`
	Wrapped error       `json:"-"` // Original error being wrapped
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewError creates a new Error with the specified type and cause.
func NewError(errorType, cause string) *Error {
	return &Error{Type: errorType, Cause: cause}
}

// NewValidationError creates a validation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeValidation, Cause: fmt.Sprintf(format, args...)}
}

// NewDependencyError creates a planning-time graph error.
func NewDependencyError(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeDependency, Cause: fmt.Sprintf(format, args...)}
}

// ClassifyError attempts to classify a regular error into an Error
func ClassifyError(err error) *Error {
	// If the error is already an Error, return it
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:    ErrorTypeCancelled,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Check for timeout patterns
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &Error{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Default to a node execution error. Unknown errors are retryable by
	// default; errors that must not be retried carry an explicit type.
	return &Error{
		Type:    ErrorTypeNodeExecution,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorType checks if an error matches a specified error type
func MatchesErrorType(err error, errorType string) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Type == errorType
}

// IsFatalPlanningError reports whether an error was raised before any node
// executed, meaning the run record holds no node results.
func IsFatalPlanningError(err error) bool {
	return MatchesErrorType(err, ErrorTypeValidation) ||
		MatchesErrorType(err, ErrorTypeDependency)
}
