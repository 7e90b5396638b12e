// Package shared contains common domain types and errors used across all
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Export / configuration errors (fatal before any remote side effect)
	ErrMalformedExport = errors.New("malformed export")
	ErrConfiguration   = errors.New("invalid configuration")

	// Remote gradebook errors
	ErrRemoteAccess    = errors.New("remote access denied")
	ErrGradeWrite      = errors.New("grade write failed")
	ErrExternalService = errors.New("external service error")
	ErrTimeout         = errors.New("operation timeout")
	ErrRateLimited     = errors.New("rate limited")

	// Run coordination errors
	ErrRunInProgress = errors.New("another run holds the lock")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "roster", "grading", "gradebook"
	Op      string // Operation that failed, e.g., "Parse", "EnsureAssignment"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Roster domain errors
var (
	ErrInvalidIdentifier = NewDomainError("roster", "Validate", ErrInvalidInput, "invalid contact identifier")
	ErrOverrideExists    = NewDomainError("roster", "RecordOverride", ErrAlreadyExists, "override already recorded for this identifier")
	ErrOverrideSelfLoop  = NewDomainError("roster", "RecordOverride", ErrInvalidInput, "override maps identifier to itself")
)

// Grading domain errors
var (
	ErrMissingColumn    = NewDomainError("grading", "Parse", ErrMalformedExport, "required column absent from export")
	ErrEmptyExport      = NewDomainError("grading", "Parse", ErrMalformedExport, "export contains no rows")
	ErrUnknownSection   = NewDomainError("grading", "Configure", ErrConfiguration, "configuration references a section absent from the export")
	ErrScoreOutOfBounds = NewDomainError("grading", "Score", ErrValueOutOfRange, "computed score outside [0, points]")
)

// Gradebook domain errors
var (
	ErrEmptyRoster      = NewDomainError("gradebook", "Assemble", ErrInvalidInput, "roster contains no active students")
	ErrSnapshotNotFound = NewDomainError("gradebook", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrAssignmentDenied = NewDomainError("gradebook", "EnsureAssignment", ErrRemoteAccess, "remote service denied assignment access")
)

// Remote service errors
var (
	ErrCanvasUnavailable     = NewDomainError("canvas", "Request", ErrExternalService, "gradebook service is unavailable")
	ErrCanvasRateLimited     = NewDomainError("canvas", "Request", ErrRateLimited, "gradebook service rate limit exceeded")
	ErrCanvasTimeout         = NewDomainError("canvas", "Request", ErrTimeout, "gradebook service request timeout")
	ErrCanvasInvalidResponse = NewDomainError("canvas", "Parse", ErrInvalidFormat, "invalid response from gradebook service")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMalformedExport checks if the error means the raw export is unusable.
func IsMalformedExport(err error) bool {
	return errors.Is(err, ErrMalformedExport)
}

// IsConfiguration checks if the error is a caller-configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRemoteAccess checks if the error is a fatal remote-access denial.
// A denial is never retried automatically: a retry after a permissions
// failure risks duplicate assignment creation on the remote side.
func IsRemoteAccess(err error) bool {
	return errors.Is(err, ErrRemoteAccess)
}

// IsRetryable checks if the operation can be retried safely.
func IsRetryable(err error) bool {
	if IsRemoteAccess(err) {
		return false
	}
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
