package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed zones, coordinates and requests. Callers
	// correct the input and resubmit.
	ErrValidation = errors.New("validation failed")
	// ErrOutOfOrder is the ordering error for stale or duplicate samples.
	ErrOutOfOrder = errors.New("sample out of order")
	// ErrImplausibleJump is the anomaly error for samples implying impossible speed.
	ErrImplausibleJump = errors.New("implausible jump")
	// ErrDeliveryFailed is reported once every delivery attempt is exhausted.
	ErrDeliveryFailed = errors.New("delivery failed")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlertClosed       = errors.New("alert is resolved")
)

// ValidationError carries the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
