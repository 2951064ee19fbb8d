// Package apperrors defines the error types and exit codes shared by the
// tractools commands.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Exit codes returned by the tractools binary.
const (
	ExitSuccess       = 0
	ExitErrorGeneric  = 1
	ExitErrorConfig   = 4
	ExitErrorCanceled = 130
)

// ConfigError represents an invalid configuration file or flag combination.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// ValidationError represents an input validation failure detected before any
// computation starts.
type ValidationError struct {
	// Field is the name of the argument that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, a ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, a...)}
}

// IsContextError checks if the error is a context cancellation or deadline
// exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if IsContextError(err) {
		return ExitErrorCanceled
	}
	var cfgErr ConfigError
	var valErr ValidationError
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) {
		return ExitErrorConfig
	}
	return ExitErrorGeneric
}
