// Package errors provides structured error handling for portprobe operations.
// It defines error codes and the error types used to separate scan-fatal
// validation failures from per-port probe failures and caller cancellation.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Probe errors.
	CodeTargetInvalid    ErrorCode = "TARGET_INVALID"
	CodePortSpecInvalid  ErrorCode = "PORT_SPEC_INVALID"
	CodeProbeFailed      ErrorCode = "PROBE_FAILED"
	CodeResolveFailed    ErrorCode = "RESOLVE_FAILED"
	CodeHostUnreachable  ErrorCode = "HOST_UNREACHABLE"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Store errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// InvalidTargetError reports a target that is not a hostname or IP literal.
// It is raised before any network activity.
type InvalidTargetError struct {
	Target string
	Reason string
}

// Error implements the error interface.
func (e *InvalidTargetError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("[%s] invalid target %q: %s", CodeTargetInvalid, e.Target, e.Reason)
	}
	return fmt.Sprintf("[%s] invalid target %q", CodeTargetInvalid, e.Target)
}

// Code returns the error code.
func (e *InvalidTargetError) Code() ErrorCode { return CodeTargetInvalid }

// InvalidPortSpecError reports an empty or malformed port specification.
// It is raised before any network activity.
type InvalidPortSpecError struct {
	Spec   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidPortSpecError) Error() string {
	if e.Spec != "" {
		return fmt.Sprintf("[%s] invalid port spec %q: %s", CodePortSpecInvalid, e.Spec, e.Reason)
	}
	return fmt.Sprintf("[%s] invalid port spec: %s", CodePortSpecInvalid, e.Reason)
}

// Code returns the error code.
func (e *InvalidPortSpecError) Code() ErrorCode { return CodePortSpecInvalid }

// ProbeError carries the network error observed while probing one port.
// It never aborts sibling probes.
type ProbeError struct {
	Target string
	Port   int
	Cause  error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("[%s] probe %s:%d: %v", CodeProbeFailed, e.Target, e.Port, e.Cause)
}

// Unwrap returns the underlying network error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Code returns the error code.
func (e *ProbeError) Code() ErrorCode { return CodeProbeFailed }

// CancelledError is returned when the caller aborts a scan. Completed counts
// how many attempts reached a terminal outcome before the abort.
type CancelledError struct {
	Target    string
	Completed int
	Total     int
	Cause     error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("[%s] scan of %s cancelled after %d/%d probes", CodeCanceled, e.Target, e.Completed, e.Total)
}

// Unwrap returns the context error that triggered the cancellation.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Code returns the error code.
func (e *CancelledError) Code() ErrorCode { return CodeCanceled }

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// StoreError represents report persistence errors.
type StoreError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewInvalidTarget creates an InvalidTargetError.
func NewInvalidTarget(target, reason string) *InvalidTargetError {
	return &InvalidTargetError{Target: target, Reason: reason}
}

// NewInvalidPortSpec creates an InvalidPortSpecError.
func NewInvalidPortSpec(spec, reason string) *InvalidPortSpecError {
	return &InvalidPortSpecError{Spec: spec, Reason: reason}
}

// NewProbeError wraps a network error for a single port.
func NewProbeError(target string, port int, cause error) *ProbeError {
	return &ProbeError{Target: target, Port: port, Cause: cause}
}

// NewCancelled creates a CancelledError.
func NewCancelled(target string, completed, total int, cause error) *CancelledError {
	return &CancelledError{Target: target, Completed: completed, Total: total, Cause: cause}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewStoreError creates a new store error.
func NewStoreError(code ErrorCode, message string) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
	}
}

// WrapStoreError wraps an existing error as a store error.
func WrapStoreError(code ErrorCode, message, operation string, err error) *StoreError {
	return &StoreError{
		Code:      code,
		Message:   message,
		Operation: operation,
		Cause:     err,
	}
}

// Utility functions for common error operations

// coder is implemented by the probe error types.
type coder interface {
	Code() ErrorCode
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case coder:
			return e.Code()
		case *ConfigError:
			return e.Code
		case *StoreError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case CodeTargetInvalid, CodePortSpecInvalid, CodeValidation:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err is a caller-initiated abort.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return stderrors.As(err, &ce)
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeResolveFailed, CodeHostUnreachable, CodeDatabaseConnection:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrNotFound creates a store error for a missing record.
func ErrNotFound(operation string) *StoreError {
	return &StoreError{Code: CodeNotFound, Message: "Resource not found", Operation: operation}
}
