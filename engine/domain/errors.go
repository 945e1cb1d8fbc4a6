package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog validation and ingestion outcomes.
var (
	ErrInvalidRecord = errors.New("invalid vehicle record")
	ErrNoTrims       = errors.New("vehicle has no trims")
	ErrEmptyField    = errors.New("required field is empty")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
