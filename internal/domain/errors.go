package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors, for use with errors.Is.
var (
	// ErrReferenceValueNotFound means no version of the code is effective
	// as of the lookup date. Fatal to any calculation that depends on it;
	// values are never silently defaulted.
	ErrReferenceValueNotFound = errors.New("reference value not found")

	// ErrRateNotFound means the rate id does not exist for the tenant.
	ErrRateNotFound = errors.New("rate not found")

	// ErrNoApplicableRate means resolution produced no rate whose
	// applicability rules match the context. A business condition, not a
	// system failure.
	ErrNoApplicableRate = errors.New("no applicable rate")

	// ErrCalculationNotFound means the calculation id does not exist.
	ErrCalculationNotFound = errors.New("calculation not found")

	// ErrInvalidRange marks an authoring-time data validation failure,
	// e.g. maxPercentage below minPercentage or an inverted weight band.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidTransition marks a disallowed rate status change, such as
	// reactivating an EXPIRED rate.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CalculationErrorKind discriminates calculation failures.
type CalculationErrorKind string

const (
	// CalcMissingInput: the context lacks a field the strategy requires.
	// Never defaulted to zero; defaulting silently would corrupt monetary
	// output.
	CalcMissingInput CalculationErrorKind = "MissingInput"

	// CalcInvalidInput: a context field is present but not usable as a
	// number for a numeric strategy.
	CalcInvalidInput CalculationErrorKind = "InvalidInput"

	// CalcUnsupportedType: the rate detail names a calculation type the
	// engine does not implement.
	CalcUnsupportedType CalculationErrorKind = "UnsupportedType"
)

// CalculationError is a typed failure from the strategy selector.
type CalculationError struct {
	Kind  CalculationErrorKind
	Field string
	Msg   string
}

func (e *CalculationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("calculation error (%s): %s: %s", e.Kind, e.Field, e.Msg)
	}
	return fmt.Sprintf("calculation error (%s): %s", e.Kind, e.Msg)
}

// NewMissingInput builds the error for an absent required context field.
func NewMissingInput(field string) *CalculationError {
	return &CalculationError{Kind: CalcMissingInput, Field: field, Msg: "required input missing from context"}
}

// NewInvalidInput builds the error for a non-numeric required field.
func NewInvalidInput(field string, msg string) *CalculationError {
	return &CalculationError{Kind: CalcInvalidInput, Field: field, Msg: msg}
}
