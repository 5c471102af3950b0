package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/camal-digital/tarifario/internal/domain"
)

// New builds the cache named by the configuration. "memory" is the
// single-node LRU; "redis" is distributed, optionally fronted by a local
// L1 when two-phase mode is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a local LRU (L1) over Redis (L2). Reads try L1
// first and promote L2 hits; writes land in both, with the L1 TTL capped
// so local staleness stays bounded across nodes.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates the layered cache from one config.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTLFromConfig(cfg),
	}, nil
}

// l1TTLFromConfig converts the configured L1 lifetime (seconds) to a
// duration, defaulting to five minutes when unset.
func l1TTLFromConfig(cfg domain.CacheConfig) time.Duration {
	if cfg.LocalTTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(cfg.LocalTTL) * time.Second
}

func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get tries L1, falls through to L2, and promotes L2 hits into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes through to both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetRateSet resolves a cached rate set, L1 first with promotion.
func (c *TwoPhaseCache) GetRateSet(ctx context.Context, tenantID string, key string) ([]*domain.Rate, error) {
	rates, err := c.local.GetRateSet(ctx, tenantID, key)
	if err != nil || rates != nil {
		return rates, err
	}

	rates, err = c.remote.GetRateSet(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if rates != nil {
		_ = c.local.SetRateSet(ctx, tenantID, key, rates, c.l1TTL)
	}
	return rates, nil
}

// SetRateSet caches a rate set in both layers.
func (c *TwoPhaseCache) SetRateSet(ctx context.Context, tenantID string, key string, rates []*domain.Rate, ttl time.Duration) error {
	if err := c.local.SetRateSet(ctx, tenantID, key, rates, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetRateSet(ctx, tenantID, key, rates, ttl)
}

// Ping requires both layers to be healthy.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports L1 occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
