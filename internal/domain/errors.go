package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInputValidation marks malformed input. Fatal for the call that received it.
	ErrInputValidation = errors.New("input validation failed")
	// ErrInsufficientData marks a baseline too short to build a climatology.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNoBaseline marks a point whose calendar period has no baseline.
	ErrNoBaseline = errors.New("no baseline")
	// ErrNumerical marks a distribution fit that did not converge.
	ErrNumerical = errors.New("numerical error")
	// ErrMissingValue marks a point that cannot be evaluated because it is a gap.
	ErrMissingValue = errors.New("missing value")
	// ErrSourceUnreachable marks an upstream data source that could not be reached.
	ErrSourceUnreachable = errors.New("source unreachable")
)

// ValidationError describes why an input was rejected.
type ValidationError struct {
	Reason string
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInputValidation }

// InsufficientDataError reports the first period with too few baseline samples.
type InsufficientDataError struct {
	Period int
	Have   int
	Want   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: period %d has %d samples, need %d", e.Period, e.Have, e.Want)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// NoBaselineError reports a point whose calendar period is absent from the profile.
type NoBaselineError struct {
	Time   time.Time
	Period int
}

func (e *NoBaselineError) Error() string {
	return fmt.Sprintf("no baseline for period %d at %s", e.Period, e.Time.Format(time.DateOnly))
}

func (e *NoBaselineError) Unwrap() error { return ErrNoBaseline }

// NumericalError reports a failed gamma fit for a period.
type NumericalError struct {
	Period int
	Reason string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("gamma fit for period %d: %s", e.Period, e.Reason)
}

func (e *NumericalError) Unwrap() error { return ErrNumerical }

// IncompleteWindowError reports an accumulation that lacks earlier periods
// to fill its trailing window.
type IncompleteWindowError struct {
	Window int
	Have   int
}

func (e *IncompleteWindowError) Error() string {
	return fmt.Sprintf("%d-period window has only %d periods", e.Window, e.Have)
}

func (e *IncompleteWindowError) Unwrap() error { return ErrMissingValue }
