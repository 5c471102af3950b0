package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValueType classifies a reference value.
type ValueType string

const (
	ValueTypeMonetary    ValueType = "monetary"
	ValueTypePercentage  ValueType = "percentage"
	ValueTypeNumeric     ValueType = "numeric"
	ValueTypeLimitConfig ValueType = "limit-config"
)

// Well-known reference value codes.
const (
	CodeRBU = "RBU" // base unified wage
	CodeVAT = "VAT" // value-added tax percentage
)

// ReferenceValue is one version of a named economic constant such as the
// base unified wage or the VAT percentage. Updates never overwrite history:
// each change is a new row with its own effective window, and lookups are
// always date-scoped. At most one value per code is meant to be effective
// at any instant; Priority breaks ties when windows overlap.
type ReferenceValue struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenantId"`
	Code     string          `json:"code"`
	Value    decimal.Decimal `json:"value"`
	Type     ValueType       `json:"valueType"`

	// Currency is set only for monetary values.
	Currency string `json:"currency,omitempty"`

	Priority       int        `json:"priority"`
	EffectiveFrom  time.Time  `json:"effectiveFrom"`
	EffectiveUntil *time.Time `json:"effectiveUntil,omitempty"`
	Active         bool       `json:"active"`

	// Reason records why this version was created ("RBU update 2026").
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// EffectiveAt reports whether this version is active and covers the instant.
func (v *ReferenceValue) EffectiveAt(asOf time.Time) bool {
	if !v.Active {
		return false
	}
	if asOf.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveUntil == nil || !asOf.After(*v.EffectiveUntil)
}
