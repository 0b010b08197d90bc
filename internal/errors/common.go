package errors

import "fmt"

// Configuration Errors
func ConfigNotFound(path string) *AppHostError {
	return NewWithDetails(ErrConfigNotFound, "Configuration file not found", fmt.Sprintf("Path: %s", path))
}

func ConfigInvalid(reason string) *AppHostError {
	return NewWithDetails(ErrConfigInvalid, "Invalid configuration", reason)
}

func ConfigParseError(path string, cause error) *AppHostError {
	return WrapWithDetails(ErrConfigParse, "Failed to parse configuration", fmt.Sprintf("Path: %s", path), cause)
}

func ConfigValidationError(field, reason string) *AppHostError {
	return NewWithDetails(ErrConfigValidation, "Configuration validation failed",
		fmt.Sprintf("Field: %s, Reason: %s", field, reason))
}

// Resource Errors
func ResourceNotFound(name string) *AppHostError {
	return NewWithDetails(ErrResourceNotFound, "Resource not found", fmt.Sprintf("Resource: %s", name)).
		WithContext("resource", name)
}

func StopFailed(name string, cause error) *AppHostError {
	return WrapWithDetails(ErrStopFailed, "Failed to stop resource",
		fmt.Sprintf("Resource: %s", name), cause)
}

func InvalidTransition(name, from, to string) *AppHostError {
	return NewWithDetails(ErrInvalidTransition, "Invalid run state transition",
		fmt.Sprintf("Resource: %s, From: %s, To: %s", name, from, to))
}

func RunNotFound(id string) *AppHostError {
	return NewWithDetails(ErrNotFound, "Run not found", fmt.Sprintf("Run: %s", id))
}

// Database Errors
func DatabaseConnectionFailed(cause error) *AppHostError {
	return Wrap(ErrDatabaseConnection, "Failed to connect to database", cause)
}

func DatabaseQueryFailed(query string, cause error) *AppHostError {
	return WrapWithDetails(ErrDatabaseQuery, "Database query failed",
		fmt.Sprintf("Query: %s", query), cause)
}

func DatabaseMigrationFailed(cause error) *AppHostError {
	return Wrap(ErrDatabaseMigration, "Database migration failed", cause)
}

// Network Errors
func APICallFailed(endpoint string, statusCode int, cause error) *AppHostError {
	return WrapWithDetails(ErrAPICall, "API call failed",
		fmt.Sprintf("Endpoint: %s, Status: %d", endpoint, statusCode), cause)
}

// Internal Errors
func Timeout(operation string) *AppHostError {
	return NewWithDetails(ErrTimeout, "Operation timed out", fmt.Sprintf("Operation: %s", operation))
}

func ShuttingDown() *AppHostError {
	return New(ErrShuttingDown, "Orchestrator is shutting down")
}

// File/IO Errors
func FileReadFailed(path string, cause error) *AppHostError {
	return WrapWithDetails(ErrFileRead, "Failed to read file", fmt.Sprintf("Path: %s", path), cause)
}

func FileWriteFailed(path string, cause error) *AppHostError {
	return WrapWithDetails(ErrFileWrite, "Failed to write file", fmt.Sprintf("Path: %s", path), cause)
}

// Validation constructs a ValidationError for a resource field.
func Validation(resource, field, reason string) *ValidationError {
	return &ValidationError{Resource: resource, Field: field, Reason: reason}
}
