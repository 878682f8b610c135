// Package services provides the application operations behind the CLI binaries and the HTTP API.
package services

import (
	"errors"
	"fmt"

	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

var (
	// ErrAutomationNotFound is returned when an automation is not found.
	ErrAutomationNotFound = persistence.ErrAutomationNotFound

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = persistence.ErrRunNotFound
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidDefinition      = models.ErrInvalidDefinition
	ErrUnsupportedSubjectType = errors.New("unsupported subject type")
	ErrNoEntryNode            = errors.New("automation definition has no entry node")

	// Business Logic Conflicts (409 Conflict).
	ErrAutomationDisabled   = errors.New("automation is disabled")
	ErrTriggerEventMismatch = errors.New("trigger event does not match automation")
	ErrNoPublishedVersion   = errors.New("automation has no published version")
	ErrVersionConflict      = errors.New("automation version was published concurrently")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrUnsupportedSubjectType) ||
		errors.Is(err, ErrNoEntryNode)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAutomationDisabled) ||
		errors.Is(err, ErrTriggerEventMismatch) ||
		errors.Is(err, ErrNoPublishedVersion) ||
		errors.Is(err, ErrVersionConflict)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
