package tariff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
)

// Engine runs the full calculation flow: resolve candidate rates, filter by
// applicability, dispatch the winning rate's strategy, persist the
// immutable result and publish the completion event.
//
// The engine itself is stateless: every call is a deterministic function of
// its inputs plus a read of the reference data as of the evaluation
// instant. Concurrent calculations are independent and need no locking.
type Engine struct {
	resolver *Resolver
	calc     *Calculator
	exprs    *conditions.ExpressionEvaluator
	repo     domain.Repository // optional, persists results
	bus      domain.EventBus   // optional, emits audit events
}

// NewEngine wires the calculation flow. repo and bus may be nil.
func NewEngine(resolver *Resolver, calc *Calculator, exprs *conditions.ExpressionEvaluator, repo domain.Repository, bus domain.EventBus) *Engine {
	return &Engine{resolver: resolver, calc: calc, exprs: exprs, repo: repo, bus: bus}
}

// Calculate resolves and computes the amount for a request. Returns
// domain.ErrNoApplicableRate when no active rate's applicability rules
// match the context.
func (e *Engine) Calculate(ctx context.Context, tenantID string, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	candidates, err := e.resolver.Resolve(ctx, tenantID, req.Type, req.Category, asOf)
	if err != nil {
		return nil, err
	}

	rate := e.firstApplicable(candidates, req.Context)
	if rate == nil {
		return nil, fmt.Errorf("%w: type=%s category=%s", domain.ErrNoApplicableRate, req.Type, req.Category)
	}

	result, err := e.calc.Calculate(ctx, tenantID, rate, req.Context, asOf)
	if err != nil {
		return nil, err
	}

	if e.repo != nil {
		if err := e.repo.SaveCalculation(ctx, tenantID, result); err != nil {
			slog.Error("failed to save calculation", "id", result.ID, "error", err)
			// The computed result is still valid; persistence failure must
			// not turn a correct amount into an error for the caller.
		}
	}

	e.publishCompleted(ctx, tenantID, result)

	return result, nil
}

// firstApplicable walks the priority-ordered candidates and returns the
// first whose condition chain and optional expression both hold.
func (e *Engine) firstApplicable(candidates []*domain.Rate, calcCtx domain.CalculationContext) *domain.Rate {
	for _, rate := range candidates {
		if !conditions.Evaluate(rate.Conditions, calcCtx) {
			continue
		}
		if e.exprs != nil && !e.exprs.Matches(rate.Expression, calcCtx) {
			continue
		}
		return rate
	}
	return nil
}

func (e *Engine) publishCompleted(ctx context.Context, tenantID string, result *domain.CalculationResult) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, tenantID, domain.TopicCalculationCompleted, payload); err != nil {
		slog.Warn("failed to publish calculation event", "id", result.ID, "error", err)
	}
}
