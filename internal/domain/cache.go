package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (single node) + Redis (distributed).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRateSet retrieves a cached resolver result for a type/category key.
	GetRateSet(ctx context.Context, tenantID string, key string) ([]*Rate, error)

	// SetRateSet caches a resolver result.
	SetRateSet(ctx context.Context, tenantID string, key string, rates []*Rate, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings. LocalTTL is in seconds.
	LocalMaxSize int `yaml:"localMaxSize"`
	LocalTTL     int `yaml:"localTtl"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
