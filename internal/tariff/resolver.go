// Package tariff implements rate resolution and amount calculation.
package tariff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camal-digital/tarifario/internal/domain"
)

// RateSource is the slice of the repository the resolver needs.
type RateSource interface {
	ListRatesByType(ctx context.Context, tenantID string, rateType domain.RateType, category string) ([]*domain.Rate, error)
}

// Resolver finds the currently-effective rate definitions for a request
// type and category. Results are cached per type/category; the date filter
// runs after the cache so one cached set serves any asOf.
type Resolver struct {
	source RateSource
	cache  domain.Cache
	ttl    time.Duration

	// usedKeys tracks cache keys handed out per tenant so Reload can
	// invalidate without enumerating the cache.
	usedKeys sync.Map // "tenant\x00key" -> struct{}
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(source RateSource, cache domain.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{source: source, cache: cache, ttl: ttl}
}

// Resolve returns the active rates matching type and category as of the
// given instant, highest priority first, ties broken by most recent
// effectiveFrom. Category-agnostic GENERAL rates are consulted only when no
// category-specific rate is in effect. An empty result is a normal business
// outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, rateType domain.RateType, category string, asOf time.Time) ([]*domain.Rate, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	matched, err := r.load(ctx, tenantID, rateType, category)
	if err != nil {
		return nil, err
	}
	inEffect := filterInEffect(matched, asOf)

	if len(inEffect) == 0 && category != domain.CategoryGeneral {
		general, err := r.load(ctx, tenantID, rateType, domain.CategoryGeneral)
		if err != nil {
			return nil, err
		}
		inEffect = filterInEffect(general, asOf)
	}

	sort.SliceStable(inEffect, func(i, j int) bool {
		if inEffect[i].Priority != inEffect[j].Priority {
			return inEffect[i].Priority > inEffect[j].Priority
		}
		return inEffect[i].EffectiveFrom.After(inEffect[j].EffectiveFrom)
	})

	return inEffect, nil
}

// Reload drops the resolver's cached rate sets for a tenant. Used by the
// hot-reload endpoint after rates are edited out of band.
func (r *Resolver) Reload(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	r.usedKeys.Range(func(k, _ any) bool {
		composite := k.(string)
		tenant, key, ok := splitKey(composite)
		if ok && tenant == tenantID {
			_ = r.cache.Delete(ctx, tenantID, key)
			r.usedKeys.Delete(k)
		}
		return true
	})
}

func (r *Resolver) load(ctx context.Context, tenantID string, rateType domain.RateType, category string) ([]*domain.Rate, error) {
	key := fmt.Sprintf("rates:%s:%s", rateType, category)

	if r.cache != nil {
		if rates, err := r.cache.GetRateSet(ctx, tenantID, key); err == nil && rates != nil {
			return rates, nil
		}
	}

	rates, err := r.source.ListRatesByType(ctx, tenantID, rateType, category)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.SetRateSet(ctx, tenantID, key, rates, r.ttl)
		r.usedKeys.Store(tenantID+"\x00"+key, struct{}{})
	}

	return rates, nil
}

func filterInEffect(rates []*domain.Rate, asOf time.Time) []*domain.Rate {
	var out []*domain.Rate
	for _, rate := range rates {
		if rate.InEffect(asOf) {
			out = append(out, rate)
		}
	}
	return out
}

func splitKey(composite string) (tenant, key string, ok bool) {
	for i := 0; i < len(composite); i++ {
		if composite[i] == '\x00' {
			return composite[:i], composite[i+1:], true
		}
	}
	return "", "", false
}
