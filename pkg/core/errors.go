package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var nan = math.NaN()

// Error kinds. Operations wrap these with context, so test with errors.Is.
var (
	// ErrShapeMismatch is returned when sample or feature counts disagree
	// across parallel containers.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrMissingColumn is returned when a required metadata column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrBadEnumValue is returned when an enum column holds a non-member.
	ErrBadEnumValue = errors.New("bad enum value")
	// ErrDuplicateValue is returned when a column that must be unique, such
	// as Feature Name or Run Order, repeats a value.
	ErrDuplicateValue = errors.New("duplicate value")
	// ErrInsufficientReferences is returned when a statistic needs more
	// reference samples than are available.
	ErrInsufficientReferences = errors.New("insufficient reference samples")
	// ErrThresholdOutOfRange is returned for thresholds outside their domain.
	ErrThresholdOutOfRange = errors.New("threshold out of range")
	// ErrMergeIncompatibility is returned when two datasets cannot be merged.
	ErrMergeIncompatibility = errors.New("merge incompatibility")
	// ErrNumericalFailure marks a feature whose fit failed. It is recorded
	// per feature, never returned for a whole operation.
	ErrNumericalFailure = errors.New("numerical failure")
	// ErrMissingOptionalMetadata marks a skipped step. Callers log it as a
	// warning.
	ErrMissingOptionalMetadata = errors.New("missing optional metadata")
)

// ValidationError represents the failures found while validating a dataset.
type ValidationError struct {
	Field    string
	Message  string
	Failures []string
	kinds    []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Unwrap exposes the error kinds behind the failures.
func (e *ValidationError) Unwrap() []error {
	return e.kinds
}

func newValidationError(field string, failures []string, kinds []error) *ValidationError {
	return &ValidationError{
		Field:    field,
		Message:  strings.Join(failures, "; "),
		Failures: failures,
		kinds:    kinds,
	}
}
