// Package conditions decides whether a rate applies to a calculation
// context: a left-to-right fold over structured predicates, plus an
// optional CEL expression path for predicates the operators cannot express.
package conditions

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/domain"
)

// Evaluate folds the ordered condition chain against the context.
//
// The first condition's truth value seeds the accumulator; every subsequent
// condition is combined with the accumulator using the preceding
// condition's logical operator (AND when unset). There is no precedence
// grouping: the fold is flat and strictly left to right. Production data
// only ever uses AND; OR is supported for forward compatibility.
//
// A condition over a field missing from the context is false, never an
// error. Applicability rules exclude inapplicable contexts, they do not
// abort calculations.
func Evaluate(conds []domain.Condition, ctx domain.CalculationContext) bool {
	if len(conds) == 0 {
		return true
	}

	acc := holds(conds[0], ctx)
	for i := 1; i < len(conds); i++ {
		prev := conds[i-1].Logical
		cur := holds(conds[i], ctx)
		if prev == domain.LogicalOr {
			acc = acc || cur
		} else {
			acc = acc && cur
		}
	}
	return acc
}

// holds computes a single condition's truth value.
func holds(c domain.Condition, ctx domain.CalculationContext) bool {
	got, ok := ctx[c.Field]
	if !ok || got == nil {
		return false
	}

	switch c.Operator {
	case domain.OpEq:
		return equal(got, c.Value)
	case domain.OpNe:
		return !equal(got, c.Value)

	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		l, lok := toDecimal(got)
		r, rok := toDecimal(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Operator {
		case domain.OpGt:
			return l.GreaterThan(r)
		case domain.OpGte:
			return l.GreaterThanOrEqual(r)
		case domain.OpLt:
			return l.LessThan(r)
		default:
			return l.LessThanOrEqual(r)
		}

	case domain.OpIn:
		return member(got, c.Value)
	case domain.OpNin:
		members, ok := asSlice(c.Value)
		if !ok {
			return false
		}
		for _, m := range members {
			if equal(got, m) {
				return false
			}
		}
		return true

	case domain.OpBetween:
		bounds, ok := asSlice(c.Value)
		if !ok || len(bounds) != 2 {
			return false
		}
		v, vok := toDecimal(got)
		low, lok := toDecimal(bounds[0])
		high, hok := toDecimal(bounds[1])
		if !vok || !lok || !hok {
			return false
		}
		return v.GreaterThanOrEqual(low) && v.LessThanOrEqual(high)
	}

	return false
}

// equal compares after normalizing both sides to the same primitive type:
// numeric when both parse as numbers, string otherwise (case-sensitive).
func equal(a, b any) bool {
	da, aok := toDecimal(a)
	db, bok := toDecimal(b)
	if aok && bok {
		return da.Equal(db)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func member(got any, value any) bool {
	members, ok := asSlice(value)
	if !ok {
		return false
	}
	for _, m := range members {
		if equal(got, m) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// toDecimal converts context and condition values to decimals. Strings are
// parsed; JSON numbers arrive as float64 or json.Number depending on the
// decoder.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}
