// Package errors provides error handling utilities for the gosolo miner.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents connect/read/write failures and peer-closed streams
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeProtocol represents malformed Stratum messages or missing required fields
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeDecode represents hex decode failures on header, coinbase or merkle inputs
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeInvalidTarget represents an nbits exponent outside the representable range
	ErrorTypeInvalidTarget ErrorType = "invalid_target"
	// ErrorTypeValidation represents configuration or solution validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeHeightSource represents failures querying the network height
	ErrorTypeHeightSource ErrorType = "height_source"
	// ErrorTypeStorage represents found-block record and metrics storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeMessaging represents event publishing errors
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeNotification represents outbound notification delivery errors
	ErrorTypeNotification ErrorType = "notification"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	// A wrapped ServiceError keeps its retry classification
	if se, ok := err.(*ServiceError); ok {
		return &ServiceError{
			Type:      errorType,
			Operation: operation,
			Message:   message,
			Cause:     se,
			Timestamp: time.Now(),
			Retryable: se.Retryable,
		}
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType) || isRetryableByDefault(err),
	}
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeHeightSource, ErrorTypeNotification, ErrorTypeStorage, ErrorTypeMessaging:
		return true
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many connections",
		"broken pipe",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errorType
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// TypeOf returns the outermost ServiceError type, or ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
