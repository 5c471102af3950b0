package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculationContext is the ephemeral, per-request mapping of variable name
// to value (numeric or categorical). Built fresh for every calculation call;
// never persisted.
type CalculationContext map[string]any

// Standard context variable names.
const (
	VarQuantity   = "quantity"
	VarWeight     = "weight"
	VarDays       = "days"
	VarHours      = "hours"
	VarFixedValue = "fixedValue"
)

// CalculationRequest is what a caller supplies to compute an amount.
type CalculationRequest struct {
	Type     RateType           `json:"type"`
	Category string             `json:"category"`
	Context  CalculationContext `json:"context,omitempty"`

	// AsOf scopes rate and reference value resolution. Zero means now.
	AsOf time.Time `json:"asOf,omitempty"`
}

// CalculationDetails snapshots every numeric input the selected strategy
// actually used. Reference value updates or rate edits after the fact must
// never change the meaning of a stored result, so the resolved numbers are
// recorded here rather than referenced.
type CalculationDetails struct {
	CalculationType CalculationType `json:"calculationType"`

	BaseAmount *decimal.Decimal `json:"baseAmount,omitempty"`
	RBUValue   *decimal.Decimal `json:"rbuValue,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	FixedValue *decimal.Decimal `json:"fixedValue,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Weight     *decimal.Decimal `json:"weight,omitempty"`
	Hours      *decimal.Decimal `json:"hours,omitempty"`

	// FormulaText and Variables are recorded for FORMULA calculations.
	FormulaText string                     `json:"formulaText,omitempty"`
	Variables   map[string]decimal.Decimal `json:"variables,omitempty"`
}

// CalculationResult is the immutable outcome of one calculation call.
// A repeat calculation produces a new result, never an update.
type CalculationResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Rate reference and the detail version in force when calculated.
	RateID        string   `json:"rateId"`
	RateCode      string   `json:"rateCode"`
	RateType      RateType `json:"rateType"`
	DetailVersion int      `json:"detailVersion"`

	// Amount is currency-rounded to 2 decimals, half away from zero,
	// applied exactly once at the end of the strategy.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	Details CalculationDetails `json:"details"`

	CalculatedAt time.Time `json:"calculatedAt"`
}
