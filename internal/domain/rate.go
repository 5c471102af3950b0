// Package domain defines the core interfaces and types for Tarifario.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateType classifies what administrative concept a rate charges for.
type RateType string

const (
	RateTypeInscription       RateType = "inscription"
	RateTypeSlaughterService  RateType = "slaughter-service"
	RateTypeAdditionalService RateType = "additional-service"
	RateTypePenalty           RateType = "penalty"
	RateTypePermit            RateType = "permit"
)

// RateStatus is the lifecycle state of a rate definition.
// ACTIVE -> INACTIVE is a reversible manual transition.
// ACTIVE -> EXPIRED happens automatically once the effective window closes
// and cannot be reversed; a new effective-dated rate must be created instead.
type RateStatus string

const (
	RateStatusActive   RateStatus = "ACTIVE"
	RateStatusInactive RateStatus = "INACTIVE"
	RateStatusExpired  RateStatus = "EXPIRED"
)

// CategoryGeneral is the category-agnostic fallback bucket. Rates in this
// category only apply when no category-specific rate is active.
const CategoryGeneral = "GENERAL"

// Rate is a tariff definition: when it applies (status, effective window,
// category, applicability rules) and how its amount is computed (Detail).
type Rate struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Type     RateType `json:"type"`
	Category string   `json:"category"`

	// Priority breaks ties when multiple rates of the same type/category
	// match: higher wins.
	Priority int `json:"priority"`

	Status         RateStatus `json:"status"`
	EffectiveFrom  time.Time  `json:"effectiveFrom"`
	EffectiveUntil *time.Time `json:"effectiveUntil,omitempty"`

	// Conditions is the ordered applicability chain, combined left to right.
	Conditions []Condition `json:"conditions,omitempty"`

	// Expression is an optional CEL predicate for applicability cases the
	// structured operators cannot express. Compiled at load time; must
	// return bool. A rate applies only if both Conditions and Expression
	// (when present) hold.
	Expression string `json:"expression,omitempty"`

	Detail *RateDetail `json:"detail,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// EffectiveStatus returns the rate status as of the given instant.
// A stored ACTIVE rate whose window has closed reads as EXPIRED.
func (r *Rate) EffectiveStatus(asOf time.Time) RateStatus {
	if r.Status == RateStatusActive && r.EffectiveUntil != nil && asOf.After(*r.EffectiveUntil) {
		return RateStatusExpired
	}
	return r.Status
}

// InEffect reports whether the rate is ACTIVE and asOf falls inside
// [EffectiveFrom, EffectiveUntil] (open-ended when EffectiveUntil is nil).
func (r *Rate) InEffect(asOf time.Time) bool {
	if r.EffectiveStatus(asOf) != RateStatusActive {
		return false
	}
	if asOf.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveUntil == nil || !asOf.After(*r.EffectiveUntil)
}

// ValidTransition reports whether a manual status change is allowed.
// ACTIVE and INACTIVE convert freely into each other; EXPIRED is terminal
// and can only be entered from ACTIVE.
func ValidTransition(from, to RateStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case RateStatusActive:
		return to == RateStatusInactive || to == RateStatusExpired
	case RateStatusInactive:
		return to == RateStatusActive
	case RateStatusExpired:
		return false
	}
	return false
}

// CalculationType selects the numeric procedure for a rate detail.
type CalculationType string

const (
	CalcFixedAmount      CalculationType = "FIXED_AMOUNT"
	CalcPercentageRBU    CalculationType = "PERCENTAGE_RBU"
	CalcPerUnit          CalculationType = "PER_UNIT"
	CalcPerKg            CalculationType = "PER_KG"
	CalcPercentageWeight CalculationType = "PERCENTAGE_WEIGHT"
	CalcFormula          CalculationType = "FORMULA"
)

// RateUnit is the charging unit for quantity-driven calculations.
type RateUnit string

const (
	UnitPerUnit   RateUnit = "per-unit"
	UnitPerWeight RateUnit = "per-weight"
)

// RateDetail holds a rate's calculation inputs. Exactly one of FormulaText
// and FixedValue is the operative source of truth at evaluation time,
// selected by IsFormula. FixedValue doubles as the unit price for PER_UNIT
// and the price per kilogram for PER_KG.
type RateDetail struct {
	ID     string   `json:"id"`
	RateID string   `json:"rateId"`
	Unit   RateUnit `json:"unit,omitempty"`

	CalculationType CalculationType `json:"calculationType"`

	IsFormula   bool            `json:"isFormula"`
	FormulaText string          `json:"formulaText,omitempty"`
	FixedValue  decimal.Decimal `json:"fixedValue"`

	// PercentageRBU applies for PERCENTAGE_RBU: amount = pct/100 * RBU.
	PercentageRBU decimal.Decimal `json:"percentageRBU,omitempty"`

	// Percentage band and weight band for PERCENTAGE_WEIGHT. The effective
	// percentage is interpolated linearly over [MinWeight, MaxWeight] and
	// clamped to [MinPercentage, MaxPercentage].
	MinPercentage decimal.Decimal `json:"minPercentage,omitempty"`
	MaxPercentage decimal.Decimal `json:"maxPercentage,omitempty"`
	MinWeight     decimal.Decimal `json:"minWeight,omitempty"`
	MaxWeight     decimal.Decimal `json:"maxWeight,omitempty"`

	// Version increments on every edit of the detail.
	Version        int        `json:"version"`
	EffectiveDate  time.Time  `json:"effectiveDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// EffectiveType resolves the calculation type, honoring the IsFormula switch.
func (d *RateDetail) EffectiveType() CalculationType {
	if d.IsFormula {
		return CalcFormula
	}
	return d.CalculationType
}

// ConditionOperator is a comparison operator in an applicability predicate.
type ConditionOperator string

const (
	OpEq      ConditionOperator = "eq"
	OpNe      ConditionOperator = "ne"
	OpGt      ConditionOperator = "gt"
	OpGte     ConditionOperator = "gte"
	OpLt      ConditionOperator = "lt"
	OpLte     ConditionOperator = "lte"
	OpIn      ConditionOperator = "in"
	OpNin     ConditionOperator = "nin"
	OpBetween ConditionOperator = "between"
)

// LogicalOperator combines a condition with the next one in the chain.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition is a single applicability predicate over a context field.
// Value is a scalar for comparison operators, a two-element array for
// between, and an array for in/nin.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`

	// Logical is the combinator between this condition and the next one.
	// Empty defaults to AND.
	Logical LogicalOperator `json:"logicalOperator,omitempty"`
}
