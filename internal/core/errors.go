// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps base with a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Config errors, raised before any simulation step runs
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Schema errors, raised at the input boundary
	ErrSchemaInvalid    = &Error{Code: "SCHEMA_INVALID", Message: "input schema invalid"}
	ErrTimestampUnknown = &Error{Code: "TIMESTAMP_UNKNOWN", Message: "timestamp not present in bar series"}

	// Simulation errors
	ErrEmptyWindow      = &Error{Code: "EMPTY_WINDOW", Message: "no forward bars available for entry"}
	ErrCapitalExhausted = &Error{Code: "CAPITAL_EXHAUSTED", Message: "capital exhausted"}
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrSimulationFailed = &Error{Code: "SIMULATION_FAILED", Message: "simulation failed"}

	// Storage errors
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "resource not found"}
	ErrStorageFailed = &Error{Code: "STORAGE_FAILED", Message: "storage operation failed"}
)

// IsSchemaError reports whether err belongs to the schema error kind.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchemaInvalid) || errors.Is(err, ErrTimestampUnknown)
}

// IsConfigError reports whether err belongs to the config error kind.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigInvalid) || errors.Is(err, ErrConfigMissing)
}
