// Package errors holds the error taxonomy of the mdr codec.
//
// This file provides:
// - Exit codes used by the command-line tools
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - returned by cmd/mdrctl
// ============================================================================

const (
	CodeOK            = 0
	CodeUnknown       = 1
	CodeConfiguration = 2
	CodeCorruption    = 3
	CodeRetrieval     = 4
	CodeInvalidState  = 5
	CodeInvalidInput  = 6
)

// CodeName returns a human-readable name for an exit code.
func CodeName(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeUnknown:
		return "Unknown"
	case CodeConfiguration:
		return "Configuration"
	case CodeCorruption:
		return "MetadataCorruption"
	case CodeRetrieval:
		return "RetrievalIO"
	case CodeInvalidState:
		return "InvalidState"
	case CodeInvalidInput:
		return "InvalidInput"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Refactor-time configuration errors (fatal)
	ErrConfiguration     = errors.New("invalid configuration")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidLevel      = errors.New("target level exceeds available levels")
	ErrShapeMismatch     = errors.New("data length does not match dimensions")
	ErrUnknownPolicy     = errors.New("unknown policy")

	// Load-time corruption (fatal)
	ErrMetadataCorruption = errors.New("metadata corruption")
	ErrChecksumMismatch   = errors.New("metadata checksum mismatch")

	// Retrieval errors (recovered per level)
	ErrRetrievalIO     = errors.New("retrieval I/O error")
	ErrStreamMissing   = errors.New("stream missing")
	ErrStreamTruncated = errors.New("stream truncated")

	// State errors
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMetadataNotLoaded = errors.New("metadata not loaded")
	ErrSessionBusy       = errors.New("reconstruction already in progress")

	// Input errors
	ErrInvalidTolerance = errors.New("invalid tolerance")
	ErrInvalidBudget    = errors.New("invalid byte budget")
	ErrInvalidRange     = errors.New("byte range outside stream")
	ErrSizeMismatch     = errors.New("decoded size mismatch")
)

// ============================================================================
// Error category checks
// ============================================================================

// IsConfiguration returns true if err is a refactor configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidDimensions) ||
		errors.Is(err, ErrInvalidLevel) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrUnknownPolicy)
}

// IsCorruption returns true if err reports inconsistent stored metadata.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrMetadataCorruption) ||
		errors.Is(err, ErrChecksumMismatch)
}

// IsRetrieval returns true if err is a recoverable stream read failure.
func IsRetrieval(err error) bool {
	return errors.Is(err, ErrRetrievalIO) ||
		errors.Is(err, ErrStreamMissing) ||
		errors.Is(err, ErrStreamTruncated)
}

// IsStateError returns true if err is a state-machine violation.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrMetadataNotLoaded) ||
		errors.Is(err, ErrSessionBusy)
}

// IsInvalidInput returns true if err rejects a caller-supplied argument.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidTolerance) ||
		errors.Is(err, ErrInvalidBudget) ||
		errors.Is(err, ErrInvalidRange)
}

// ErrorToCode maps an error to its process exit code.
func ErrorToCode(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case IsConfiguration(err):
		return CodeConfiguration
	case IsCorruption(err):
		return CodeCorruption
	case IsRetrieval(err):
		return CodeRetrieval
	case IsStateError(err):
		return CodeInvalidState
	case IsInvalidInput(err):
		return CodeInvalidInput
	default:
		return CodeUnknown
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

// NewConfiguration creates a configuration error with context.
func NewConfiguration(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrConfiguration)
}

// NewCorruption creates a metadata corruption error with context.
func NewCorruption(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMetadataCorruption)
}

// NewRetrieval creates a retrieval error for a level stream.
func NewRetrieval(level int, cause error) error {
	if cause == nil {
		cause = ErrStreamMissing
	}
	return fmt.Errorf("level %d: %w: %w", level, ErrRetrievalIO, cause)
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
	v.Errors = append(v.Errors, NewConfiguration(field, reason))
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
