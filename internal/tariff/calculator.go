package tariff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/formula"
)

var oneHundred = decimal.NewFromInt(100)

// ReferenceResolver is the slice of the reference value store the
// calculator needs.
type ReferenceResolver interface {
	GetByCode(ctx context.Context, tenantID string, code string, asOf time.Time) (*domain.ReferenceValue, error)
}

// Calculator dispatches a rate detail to its numeric strategy and produces
// an immutable result with the inputs actually used snapshotted into the
// details. Monetary rounding happens exactly once, at the very end: two
// decimals, half away from zero.
type Calculator struct {
	refs            ReferenceResolver
	rbuCode         string
	defaultCurrency string
}

// NewCalculator creates a calculator. rbuCode and currency fall back to
// "RBU" and "USD".
func NewCalculator(refs ReferenceResolver, rbuCode, currency string) *Calculator {
	if rbuCode == "" {
		rbuCode = domain.CodeRBU
	}
	if currency == "" {
		currency = "USD"
	}
	return &Calculator{refs: refs, rbuCode: rbuCode, defaultCurrency: currency}
}

// Calculate computes the amount for a rate against a context. The rate must
// carry a detail. asOf scopes reference value resolution (zero means now).
func (c *Calculator) Calculate(ctx context.Context, tenantID string, rate *domain.Rate, calcCtx domain.CalculationContext, asOf time.Time) (*domain.CalculationResult, error) {
	if rate.Detail == nil {
		return nil, fmt.Errorf("rate %s has no calculation detail", rate.Code)
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	detail := rate.Detail
	details := domain.CalculationDetails{CalculationType: detail.EffectiveType()}
	currency := c.defaultCurrency

	var amount decimal.Decimal
	switch detail.EffectiveType() {
	case domain.CalcFixedAmount:
		// Ignores the context entirely.
		amount = detail.FixedValue
		details.FixedValue = &detail.FixedValue

	case domain.CalcPercentageRBU:
		rbu, err := c.refs.GetByCode(ctx, tenantID, c.rbuCode, asOf)
		if err != nil {
			return nil, err
		}
		amount = detail.PercentageRBU.Div(oneHundred).Mul(rbu.Value)
		details.RBUValue = &rbu.Value
		details.Percentage = &detail.PercentageRBU
		if rbu.Currency != "" {
			currency = rbu.Currency
		}

	case domain.CalcPerUnit:
		qty, err := requireNumber(calcCtx, domain.VarQuantity)
		if err != nil {
			return nil, err
		}
		amount = detail.FixedValue.Mul(qty)
		details.FixedValue = &detail.FixedValue
		details.Quantity = &qty

	case domain.CalcPerKg:
		weight, err := requireNumber(calcCtx, domain.VarWeight)
		if err != nil {
			return nil, err
		}
		amount = detail.FixedValue.Mul(weight)
		details.FixedValue = &detail.FixedValue
		details.Weight = &weight

	case domain.CalcPercentageWeight:
		weight, err := requireNumber(calcCtx, domain.VarWeight)
		if err != nil {
			return nil, err
		}
		pct, err := weightPercentage(detail, weight)
		if err != nil {
			return nil, err
		}
		rbu, err := c.refs.GetByCode(ctx, tenantID, c.rbuCode, asOf)
		if err != nil {
			return nil, err
		}
		amount = pct.Div(oneHundred).Mul(rbu.Value)
		details.RBUValue = &rbu.Value
		details.Percentage = &pct
		details.Weight = &weight
		if rbu.Currency != "" {
			currency = rbu.Currency
		}

	case domain.CalcFormula:
		result, vars, err := c.evalFormula(detail, calcCtx)
		if err != nil {
			return nil, err
		}
		amount = result
		details.FormulaText = detail.FormulaText
		details.Variables = vars
		details.FixedValue = &detail.FixedValue

	default:
		return nil, &domain.CalculationError{
			Kind: domain.CalcUnsupportedType,
			Msg:  fmt.Sprintf("unknown calculation type %q", detail.CalculationType),
		}
	}

	if hours, ok := number(calcCtx, domain.VarHours); ok {
		details.Hours = &hours
	}

	return &domain.CalculationResult{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		RateID:        rate.ID,
		RateCode:      rate.Code,
		RateType:      rate.Type,
		DetailVersion: detail.Version,
		Amount:        amount.Round(2),
		Currency:      currency,
		Details:       details,
		CalculatedAt:  time.Now().UTC(),
	}, nil
}

// evalFormula runs the restricted formula with every numeric context entry
// as a variable, plus the detail's fixedValue.
func (c *Calculator) evalFormula(detail *domain.RateDetail, calcCtx domain.CalculationContext) (decimal.Decimal, map[string]decimal.Decimal, error) {
	vars := make(map[string]decimal.Decimal, len(calcCtx)+1)
	for name, raw := range calcCtx {
		if d, ok := toDecimal(raw); ok {
			vars[name] = d
		}
	}
	// fixedValue is available to the formula even in formula mode.
	vars[domain.VarFixedValue] = detail.FixedValue

	expr, err := formula.Parse(detail.FormulaText)
	if err != nil {
		return decimal.Zero, nil, err
	}
	result, err := expr.Eval(vars)
	if err != nil {
		return decimal.Zero, nil, err
	}

	// Record only the variables the formula actually read.
	used := make(map[string]decimal.Decimal)
	for _, name := range expr.Vars() {
		used[name] = vars[name]
	}
	return result, used, nil
}

// weightPercentage interpolates the percentage linearly over the weight
// band [MinWeight, MaxWeight], clamped to [MinPercentage, MaxPercentage].
// Weights at or below MinWeight get MinPercentage; at or above MaxWeight,
// MaxPercentage.
func weightPercentage(detail *domain.RateDetail, weight decimal.Decimal) (decimal.Decimal, error) {
	if detail.MaxPercentage.LessThan(detail.MinPercentage) {
		return decimal.Zero, fmt.Errorf("%w: maxPercentage %s below minPercentage %s",
			domain.ErrInvalidRange, detail.MaxPercentage, detail.MinPercentage)
	}
	if !detail.MaxWeight.GreaterThan(detail.MinWeight) {
		return decimal.Zero, fmt.Errorf("%w: weight band [%s, %s]",
			domain.ErrInvalidRange, detail.MinWeight, detail.MaxWeight)
	}

	if weight.LessThanOrEqual(detail.MinWeight) {
		return detail.MinPercentage, nil
	}
	if weight.GreaterThanOrEqual(detail.MaxWeight) {
		return detail.MaxPercentage, nil
	}

	span := detail.MaxWeight.Sub(detail.MinWeight)
	fraction := weight.Sub(detail.MinWeight).Div(span)
	return detail.MinPercentage.Add(detail.MaxPercentage.Sub(detail.MinPercentage).Mul(fraction)), nil
}

// requireNumber pulls a required numeric field from the context. Missing or
// non-numeric values are typed errors, never silently defaulted to zero.
func requireNumber(calcCtx domain.CalculationContext, field string) (decimal.Decimal, error) {
	raw, ok := calcCtx[field]
	if !ok || raw == nil {
		return decimal.Zero, domain.NewMissingInput(field)
	}
	d, ok := toDecimal(raw)
	if !ok {
		return decimal.Zero, domain.NewInvalidInput(field, fmt.Sprintf("value %v is not numeric", raw))
	}
	return d, nil
}

func number(calcCtx domain.CalculationContext, field string) (decimal.Decimal, bool) {
	raw, ok := calcCtx[field]
	if !ok || raw == nil {
		return decimal.Zero, false
	}
	return toDecimal(raw)
}

// toDecimal normalizes JSON-decoded and native numeric values.
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
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}
