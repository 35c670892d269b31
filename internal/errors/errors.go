// Package errors holds the error definitions shared by the whole project.
//
// It provides:
//   - sentinel errors for every error condition
//   - error category checking functions
//   - a Kind label used by logs and metrics
//   - error wrapping utilities
//   - a collector for configuration validation errors
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Session errors. Each of these ends the current acquisition session.
	ErrProtocol   = errors.New("protocol error")
	ErrConnection = errors.New("connection error")
	ErrInvariant  = errors.New("state invariant violation")

	// Lifecycle errors
	ErrSessionClosed = errors.New("session is closed")
	ErrServerClosed  = errors.New("server is closed")
	ErrWriterClosed  = errors.New("writer is closed")

	// Validation errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidChannel = errors.New("invalid channel")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsProtocolError returns true if err is a malformed or mis-sized frame.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsConnectionError returns true if err is a transport failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsInvariantViolation returns true if err reports broken window bounds.
// These are programming errors, never retried.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidChannel)
}

// Kind returns a short label for the error category, used as a log
// attribute and metric label.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsProtocolError(err):
		return "protocol"
	case IsConnectionError(err):
		return "connection"
	case IsInvariantViolation(err):
		return "invariant"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrServerClosed):
		return "closed"
	case IsValidation(err):
		return "validation"
	default:
		return "internal"
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewProtocol creates a protocol error with context.
func NewProtocol(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrProtocol)
}

// NewConnection marks a transport error as a connection error while
// keeping the underlying cause reachable through errors.Is/As.
func NewConnection(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrConnection)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnection, cause)
}

// NewInvariant creates an invariant violation with context.
func NewInvariant(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvariant)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
