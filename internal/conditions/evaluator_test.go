package conditions

import (
	"testing"

	"github.com/camal-digital/tarifario/internal/domain"
)

func cond(field string, op domain.ConditionOperator, value any) domain.Condition {
	return domain.Condition{Field: field, Operator: op, Value: value}
}

func TestOperators(t *testing.T) {
	ctx := domain.CalculationContext{
		"personType":  "natural",
		"quantity":    3.0,
		"totalWeight": 450.5,
		"species":     "bovine",
	}

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"EqString", cond("personType", domain.OpEq, "natural"), true},
		{"EqStringMiss", cond("personType", domain.OpEq, "juridical"), false},
		{"EqStringCaseSensitive", cond("personType", domain.OpEq, "Natural"), false},
		{"EqNumeric", cond("quantity", domain.OpEq, 3), true},
		{"EqNumericStringNormalized", cond("quantity", domain.OpEq, "3"), true},
		{"Ne", cond("species", domain.OpNe, "porcine"), true},
		{"Gt", cond("quantity", domain.OpGt, 2), true},
		{"GtFalse", cond("quantity", domain.OpGt, 3), false},
		{"Gte", cond("quantity", domain.OpGte, 3), true},
		{"Lt", cond("totalWeight", domain.OpLt, 500), true},
		{"Lte", cond("totalWeight", domain.OpLte, 450.5), true},
		{"GtNonNumericContext", cond("personType", domain.OpGt, 2), false},
		{"GtNonNumericValue", cond("quantity", domain.OpGt, "heavy"), false},
		{"In", cond("species", domain.OpIn, []any{"bovine", "porcine"}), true},
		{"InMiss", cond("species", domain.OpIn, []any{"ovine", "porcine"}), false},
		{"InNonArray", cond("species", domain.OpIn, "bovine"), false},
		{"Nin", cond("species", domain.OpNin, []any{"ovine", "porcine"}), true},
		{"NinMiss", cond("species", domain.OpNin, []any{"bovine"}), false},
		{"BetweenInclusiveLow", cond("totalWeight", domain.OpBetween, []any{450.5, 600}), true},
		{"BetweenInclusiveHigh", cond("totalWeight", domain.OpBetween, []any{100, 450.5}), true},
		{"BetweenOutside", cond("totalWeight", domain.OpBetween, []any{500, 600}), false},
		{"BetweenMalformed", cond("totalWeight", domain.OpBetween, []any{100}), false},
		{"MissingField", cond("age", domain.OpGt, 1), false},
		{"MissingFieldEq", cond("age", domain.OpEq, 1), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate([]domain.Condition{tc.cond}, ctx); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEmptyChainMatchesEverything(t *testing.T) {
	if !Evaluate(nil, domain.CalculationContext{}) {
		t.Error("empty condition chain should match")
	}
}

func TestAndChain(t *testing.T) {
	ctx := domain.CalculationContext{"quantity": 5.0, "species": "bovine"}

	conds := []domain.Condition{
		{Field: "quantity", Operator: domain.OpGt, Value: 1, Logical: domain.LogicalAnd},
		{Field: "species", Operator: domain.OpEq, Value: "bovine"},
	}
	if !Evaluate(conds, ctx) {
		t.Error("expected all-AND chain to hold")
	}

	// Monotonicity: appending a false condition to an all-AND chain makes
	// the whole chain false no matter what else holds.
	conds[1].Logical = domain.LogicalAnd
	conds = append(conds, domain.Condition{Field: "quantity", Operator: domain.OpLt, Value: 0})
	if Evaluate(conds, ctx) {
		t.Error("AND chain with a false condition must be false")
	}
}

func TestOrChain(t *testing.T) {
	ctx := domain.CalculationContext{"species": "ovine"}

	conds := []domain.Condition{
		{Field: "species", Operator: domain.OpEq, Value: "bovine", Logical: domain.LogicalOr},
		{Field: "species", Operator: domain.OpEq, Value: "ovine"},
	}
	if !Evaluate(conds, ctx) {
		t.Error("expected OR chain to hold on second condition")
	}
}

func TestFlatLeftToRightFold(t *testing.T) {
	// (false OR true) AND false = false under the flat fold. With AND
	// binding tighter it would be false OR (true AND false) = false too,
	// so also check a case where the results differ:
	// (true OR false) AND false -> flat fold gives false.
	ctx := domain.CalculationContext{"a": 1.0, "b": 2.0, "c": 3.0}

	conds := []domain.Condition{
		{Field: "a", Operator: domain.OpEq, Value: 1, Logical: domain.LogicalOr},  // true
		{Field: "b", Operator: domain.OpEq, Value: 99, Logical: domain.LogicalAnd}, // false
		{Field: "c", Operator: domain.OpEq, Value: 99},                             // false
	}
	if Evaluate(conds, ctx) {
		t.Error("flat fold should give (true OR false) AND false = false")
	}
}

func TestDefaultCombinatorIsAnd(t *testing.T) {
	ctx := domain.CalculationContext{"quantity": 5.0}

	conds := []domain.Condition{
		{Field: "quantity", Operator: domain.OpGt, Value: 1}, // no Logical set
		{Field: "quantity", Operator: domain.OpLt, Value: 2},
	}
	if Evaluate(conds, ctx) {
		t.Error("unset combinator should behave as AND")
	}
}
