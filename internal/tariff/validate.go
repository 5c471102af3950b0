package tariff

import (
	"fmt"

	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/formula"
)

// ValidateRate checks a rate definition at authoring time. Misconfigured
// formulas, expressions and ranges are rejected here so they can never
// reach a calculation.
func ValidateRate(rate *domain.Rate, exprs *conditions.ExpressionEvaluator) error {
	if rate.Code == "" {
		return fmt.Errorf("rate code is required")
	}
	if rate.Type == "" {
		return fmt.Errorf("rate type is required")
	}
	if rate.EffectiveUntil != nil && !rate.EffectiveFrom.Before(*rate.EffectiveUntil) {
		return fmt.Errorf("%w: effectiveFrom must precede effectiveUntil", domain.ErrInvalidRange)
	}

	if rate.Expression != "" && exprs != nil {
		if err := exprs.Compile(rate.Expression); err != nil {
			return err
		}
	}

	for i, cond := range rate.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if cond.Operator == "" {
			return fmt.Errorf("condition %d: operator is required", i)
		}
	}

	if rate.Detail == nil {
		return fmt.Errorf("rate detail is required")
	}
	return validateDetail(rate.Detail)
}

func validateDetail(detail *domain.RateDetail) error {
	if detail.IsFormula {
		if detail.FormulaText == "" {
			return fmt.Errorf("formulaText is required when isFormula is set")
		}
		if _, err := formula.Parse(detail.FormulaText); err != nil {
			return err
		}
		return nil
	}

	switch detail.CalculationType {
	case domain.CalcFixedAmount, domain.CalcPerUnit, domain.CalcPerKg:
		if detail.FixedValue.IsZero() && detail.CalculationType != domain.CalcFixedAmount {
			return fmt.Errorf("fixedValue is required for %s", detail.CalculationType)
		}

	case domain.CalcPercentageRBU:
		if detail.PercentageRBU.IsZero() {
			return fmt.Errorf("percentageRBU is required for %s", domain.CalcPercentageRBU)
		}

	case domain.CalcPercentageWeight:
		if detail.MaxPercentage.LessThan(detail.MinPercentage) {
			return fmt.Errorf("%w: maxPercentage %s below minPercentage %s",
				domain.ErrInvalidRange, detail.MaxPercentage, detail.MinPercentage)
		}
		if !detail.MaxWeight.GreaterThan(detail.MinWeight) {
			return fmt.Errorf("%w: weight band [%s, %s]",
				domain.ErrInvalidRange, detail.MinWeight, detail.MaxWeight)
		}

	case domain.CalcFormula:
		return fmt.Errorf("calculation type %s requires isFormula", domain.CalcFormula)

	default:
		return fmt.Errorf("unknown calculation type %q", detail.CalculationType)
	}

	return nil
}
