// Package errors provides typed error definitions for apphost.
// Generic failures use AppHostError with an ErrorCode; orchestration failures
// use the dedicated types in orchestration.go so callers can match them with
// errors.As and report the resource and edge involved.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// Configuration errors
	ErrConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Graph build errors
	ErrValidation         ErrorCode = "VALIDATION"
	ErrCyclicDependency   ErrorCode = "CYCLIC_DEPENDENCY"
	ErrUnknownResource    ErrorCode = "UNKNOWN_RESOURCE"
	ErrEndpointUnresolved ErrorCode = "ENDPOINT_UNRESOLVED"

	// Runtime errors
	ErrLaunchFailed       ErrorCode = "LAUNCH_FAILED"
	ErrStopFailed         ErrorCode = "STOP_FAILED"
	ErrHealthCheckTimeout ErrorCode = "HEALTH_CHECK_TIMEOUT"
	ErrUnhealthy          ErrorCode = "UNHEALTHY"
	ErrStartupFailure     ErrorCode = "STARTUP_FAILURE"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrResourceNotFound   ErrorCode = "RESOURCE_NOT_FOUND"
	ErrResourceExited     ErrorCode = "RESOURCE_EXITED"

	// Database errors
	ErrDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Network/API errors
	ErrNetworkConnection ErrorCode = "NETWORK_CONNECTION"
	ErrAPICall           ErrorCode = "API_CALL"

	// Internal errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrCancelled    ErrorCode = "CANCELLED"
	ErrShuttingDown ErrorCode = "SHUTTING_DOWN"

	// File/IO errors
	ErrFileRead   ErrorCode = "FILE_READ"
	ErrFileWrite  ErrorCode = "FILE_WRITE"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrFileSystem ErrorCode = "FILE_SYSTEM"
)

// AppHostError represents a structured error with additional context
type AppHostError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppHostError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *AppHostError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppHostError) WithContext(key string, value interface{}) *AppHostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetHTTPStatus returns the appropriate HTTP status code for this error
func (e *AppHostError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}

	return StatusForCode(e.Code)
}

// StatusForCode maps an error code to an HTTP status
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrConfigNotFound, ErrResourceNotFound, ErrNotFound:
		return http.StatusNotFound
	case ErrValidation, ErrConfigInvalid, ErrConfigValidation, ErrConfigParse, ErrCyclicDependency, ErrUnknownResource:
		return http.StatusBadRequest
	case ErrTimeout:
		return http.StatusRequestTimeout
	case ErrShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppHostError
func New(code ErrorCode, message string) *AppHostError {
	return &AppHostError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new AppHostError with details
func NewWithDetails(code ErrorCode, message, details string) *AppHostError {
	return &AppHostError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap creates a new AppHostError that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *AppHostError {
	return &AppHostError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetails creates a new AppHostError with details that wraps an existing error
func WrapWithDetails(code ErrorCode, message, details string, cause error) *AppHostError {
	return &AppHostError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// Coded is implemented by every error type in this package.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// ErrorCode returns the error code.
func (e *AppHostError) ErrorCode() ErrorCode {
	return e.Code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// Is, As and Join are re-exported so callers importing this package under
// the name errors keep access to the standard helpers.
var (
	Is   = stderrors.Is
	As   = stderrors.As
	Join = stderrors.Join
)
