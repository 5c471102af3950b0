// Package refvalues resolves and versions named economic constants such as
// the base unified wage (RBU) and the VAT percentage.
package refvalues

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/domain"
)

// VersionSource is the slice of the repository the store needs.
type VersionSource interface {
	SaveReferenceValue(ctx context.Context, tenantID string, value *domain.ReferenceValue) error
	ListReferenceValueVersions(ctx context.Context, tenantID string, code string) ([]*domain.ReferenceValue, error)
}

// Store resolves reference values date-scoped and records updates as new
// versions. History is append-only: an update never touches earlier rows,
// so calculations that snapshotted a value keep their meaning.
type Store struct {
	source VersionSource
	cache  domain.Cache
	bus    domain.EventBus
	ttl    time.Duration
}

// NewStore creates a reference value store. cache and bus may be nil.
func NewStore(source VersionSource, cache domain.Cache, bus domain.EventBus, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{source: source, cache: cache, bus: bus, ttl: ttl}
}

// GetByCode resolves the value effective at asOf (zero means now) among the
// active versions of the code. Ties between overlapping windows break by
// highest priority, then most recent effectiveFrom. Returns
// domain.ErrReferenceValueNotFound when nothing is effective; callers must
// treat that as fatal to the calculation, never default the value.
func (s *Store) GetByCode(ctx context.Context, tenantID string, code string, asOf time.Time) (*domain.ReferenceValue, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	cacheKey := fmt.Sprintf("refval:%s:%s", code, asOf.Format("2006-01-02"))
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, cacheKey); err == nil && data != nil {
			var rv domain.ReferenceValue
			if err := json.Unmarshal(data, &rv); err == nil {
				return &rv, nil
			}
		}
	}

	versions, err := s.source.ListReferenceValueVersions(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}

	var best *domain.ReferenceValue
	for _, v := range versions {
		if !v.EffectiveAt(asOf) {
			continue
		}
		if best == nil || v.Priority > best.Priority ||
			(v.Priority == best.Priority && v.EffectiveFrom.After(best.EffectiveFrom)) {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s as of %s", domain.ErrReferenceValueNotFound, code, asOf.Format(time.RFC3339))
	}

	if s.cache != nil {
		if data, err := json.Marshal(best); err == nil {
			_ = s.cache.Set(ctx, tenantID, cacheKey, data, s.ttl)
		}
	}

	return best, nil
}

// UpdateInput describes a reference value update.
type UpdateInput struct {
	Code          string
	Value         decimal.Decimal
	Type          domain.ValueType
	Currency      string
	Priority      int
	Reason        string
	EffectiveDate time.Time
}

// Update records a new version of the code. The previous version is left
// untouched; resolution picks the new one from its effective date onward.
func (s *Store) Update(ctx context.Context, tenantID string, in UpdateInput) (*domain.ReferenceValue, error) {
	if in.Code == "" {
		return nil, fmt.Errorf("reference value code is required")
	}
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = time.Now().UTC()
	}
	if in.Type == "" {
		in.Type = domain.ValueTypeMonetary
	}

	rv := &domain.ReferenceValue{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Code:          in.Code,
		Value:         in.Value,
		Type:          in.Type,
		Currency:      in.Currency,
		Priority:      in.Priority,
		EffectiveFrom: in.EffectiveDate,
		Active:        true,
		Reason:        in.Reason,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.source.SaveReferenceValue(ctx, tenantID, rv); err != nil {
		return nil, err
	}

	s.invalidate(ctx, tenantID, in.Code)
	s.publish(ctx, tenantID, rv)

	return rv, nil
}

// History returns every stored version of the code, newest first.
func (s *Store) History(ctx context.Context, tenantID string, code string) ([]*domain.ReferenceValue, error) {
	return s.source.ListReferenceValueVersions(ctx, tenantID, code)
}

func (s *Store) invalidate(ctx context.Context, tenantID, code string) {
	if s.cache == nil {
		return
	}
	// Past date-scoped keys resolve history, which updates never change.
	// Future-dated keys (someone queried ahead of an effective date) age
	// out with the TTL instead of being tracked here.
	key := fmt.Sprintf("refval:%s:%s", code, time.Now().UTC().Format("2006-01-02"))
	_ = s.cache.Delete(ctx, tenantID, key)
}

func (s *Store) publish(ctx context.Context, tenantID string, rv *domain.ReferenceValue) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(rv)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicReferenceUpdated, payload); err != nil {
		slog.Warn("failed to publish reference value update",
			"code", rv.Code,
			"error", err,
		)
	}
}
