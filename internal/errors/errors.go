// Package errors holds the error taxonomy shared by every telegate package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Store error classification (retriable, connection closed)
// - Error wrapping utilities
// - A collector for configuration validation errors
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Ingest errors
	ErrMalformedInput = errors.New("malformed input")
	ErrMissingDevice  = errors.New("missing deviceId")
	ErrMissingFeature = errors.New("missing feature")

	// Aggregation errors
	ErrDegenerateWindow = errors.New("degenerate aggregation window")

	// Store errors
	ErrTransientStore   = errors.New("transient store failure")
	ErrConnectionClosed = errors.New("store connection closed")
	ErrStoreClosed      = errors.New("store is closed")
	ErrNotFound         = errors.New("not found")

	// Lifecycle errors
	ErrStopTimeout    = errors.New("stop timed out")
	ErrAlreadyStarted = errors.New("already started")
	ErrStopped        = errors.New("stopped")

	// ErrQueueFull is returned when a bounded queue refuses an item.
	ErrQueueFull = errors.New("queue full")

	// Weather errors
	ErrWeatherUnavailable = errors.New("weather service unavailable")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
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

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsMalformed returns true if err describes a rejected ingest payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedInput) ||
		errors.Is(err, ErrMissingDevice) ||
		errors.Is(err, ErrMissingFeature)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// ============================================================================
// Store error classification
// ============================================================================

// closedPatterns match driver messages for a handle that can no longer be used.
var closedPatterns = []string{
	"database is closed",
	"connection is closed",
	"connection already closed",
	"closed database",
	"bad connection",
	"driver: bad connection",
}

// retriablePatterns match driver messages for failures that clear up on their own.
var retriablePatterns = []string{
	"database is locked",
	"busy",
	"lock",
	"timeout",
	"timed out",
	"connection reset",
	"broken pipe",
	"conflict",
	"temporarily unavailable",
	"io error",
}

// IsConnectionClosed reports whether err means the store handle was closed
// underneath the caller and must be reopened.
func IsConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range closedPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetriable returns true if the error is expected to resolve without
// operator intervention.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientStore) || IsConnectionClosed(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retriablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
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

// NewMalformed creates a malformed-input error with context.
func NewMalformed(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrMalformedInput)
}

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
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

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

// ErrOrNil returns v if it holds any errors, nil otherwise.
func (v *ValidationErrors) ErrOrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}
