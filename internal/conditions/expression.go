package conditions

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/camal-digital/tarifario/internal/domain"
)

// ExpressionEvaluator compiles and runs the optional CEL applicability
// expressions a rate may carry. Programs are compiled once (at rate load or
// authoring time) and cached for reuse across calculations.
type ExpressionEvaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewExpressionEvaluator creates the CEL environment for applicability
// expressions. Expressions see the full calculation context as `ctx` plus
// the common numeric variables directly (zero when absent).
func NewExpressionEvaluator() (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("quantity", cel.DoubleType),
		cel.Variable("weight", cel.DoubleType),
		cel.Variable("days", cel.DoubleType),
		cel.Variable("hours", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression and caches its program. Used both at
// authoring time (reject bad expressions before they are stored) and at
// rate load time.
func (e *ExpressionEvaluator) Compile(expression string) error {
	if expression == "" {
		return nil
	}

	e.mu.RLock()
	_, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return nil
}

// Matches evaluates a compiled expression against the context. An empty
// expression matches everything. Evaluation errors exclude the rate (the
// same graceful-exclusion stance as the structured conditions), they never
// abort the calculation.
func (e *ExpressionEvaluator) Matches(expression string, ctx domain.CalculationContext) bool {
	if expression == "" {
		return true
	}

	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()

	if !ok {
		if err := e.Compile(expression); err != nil {
			return false
		}
		e.mu.RLock()
		program = e.programs[expression]
		e.mu.RUnlock()
	}

	out, _, err := program.Eval(activation(ctx))
	if err != nil {
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// activation builds the CEL variable bindings from the context.
func activation(ctx domain.CalculationContext) map[string]any {
	vars := map[string]any{
		"ctx":      map[string]any(ctx),
		"quantity": 0.0,
		"weight":   0.0,
		"days":     0.0,
		"hours":    0.0,
	}
	for _, name := range []string{domain.VarQuantity, domain.VarWeight, domain.VarDays, domain.VarHours} {
		if v, ok := ctx[name]; ok {
			if d, ok := toDecimal(v); ok {
				f, _ := d.Float64()
				vars[name] = f
			}
		}
	}
	return vars
}
