package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of launch errors
type ErrorType string

const (
	// Launch failure categories
	ErrorTypePreflight      ErrorType = "preflight"
	ErrorTypePortResolution ErrorType = "port_resolution"
	ErrorTypeStartupTimeout ErrorType = "startup_timeout"
	ErrorTypeProcessExit    ErrorType = "process_exit"
	ErrorTypeConfigWrite    ErrorType = "config_write"
	ErrorTypeAborted        ErrorType = "aborted"

	// Generic categories
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Launch errors
func NewPreflightError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePreflight, message, cause)
}

func NewPortResolutionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePortResolution, message, cause)
}

func NewStartupTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStartupTimeout, message, cause)
}

func NewProcessExitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcessExit, message, cause)
}

func NewConfigWriteError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigWrite, message, cause)
}

func NewAbortedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAborted, message, cause)
}

// Validation errors
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Process errors
func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// Error checking helpers
func IsPreflightError(err error) bool      { return isType(err, ErrorTypePreflight) }
func IsPortResolutionError(err error) bool { return isType(err, ErrorTypePortResolution) }
func IsStartupTimeoutError(err error) bool { return isType(err, ErrorTypeStartupTimeout) }
func IsProcessExitError(err error) bool    { return isType(err, ErrorTypeProcessExit) }
func IsConfigWriteError(err error) bool    { return isType(err, ErrorTypeConfigWrite) }
func IsAbortedError(err error) bool        { return isType(err, ErrorTypeAborted) }
func IsValidationError(err error) bool     { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool       { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool       { return isType(err, ErrorTypeConflict) }
func IsProcessError(err error) bool        { return isType(err, ErrorTypeProcess) }
func IsTimeoutError(err error) bool        { return isType(err, ErrorTypeTimeout) }
func IsIOError(err error) bool             { return isType(err, ErrorTypeIO) }
func IsInternalError(err error) bool       { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool      { return isType(err, ErrorTypeCancelled) }

// IsFatal reports whether err must abort the launch.
// Process exits after readiness and env file write failures are logged and tolerated,
// an operator abort is a clean stop, and cancellation comes from a shutdown signal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return true
	}
	switch domainErr.Type {
	case ErrorTypeProcessExit, ErrorTypeConfigWrite, ErrorTypeAborted, ErrorTypeCancelled:
		return false
	}
	return true
}

// ExitCode maps a launch result to the process exit status
func ExitCode(err error) int {
	if err == nil || IsAbortedError(err) || IsCancelledError(err) {
		return 0
	}
	return 1
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
