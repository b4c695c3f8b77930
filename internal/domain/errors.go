package domain

import (
	"errors"
	"fmt"
)

// Sentinel error categories. Handlers map these to HTTP status codes;
// services wrap them in a DomainError with a human-readable message.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)

// DomainError carries a sentinel category, a user-facing message and
// optional diagnostic context attached only in non-production mode.
type DomainError struct {
	Err     error
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap exposes the sentinel category for errors.Is checks.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithContext attaches a diagnostic key/value pair and returns the error.
func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewNotFoundError reports that an entity does not exist.
func NewNotFoundError(entity string, key any) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s %v not found", entity, key),
	}
}

// NewValidationError reports a user-correctable validation failure.
func NewValidationError(format string, args ...any) *DomainError {
	return &DomainError{
		Err:     ErrValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewUnauthorizedError reports a failed authentication check.
func NewUnauthorizedError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// NewConflictError reports a concurrent-modification or uniqueness conflict.
func NewConflictError(message string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Message: message,
	}
}

// NewInvalidStateError reports an illegal state transition.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidState,
		Message: fmt.Sprintf("invalid state transition from %s to %s", from, to),
	}
}
