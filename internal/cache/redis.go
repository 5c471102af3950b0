package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camal-digital/tarifario/internal/domain"
)

// keyPrefix namespaces every key so a shared Redis instance can host
// other services alongside this one.
const keyPrefix = "tarifario:"

// RedisCache backs domain.Cache with Redis for distributed deployments
// and serves as L2 in two-phase mode.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns the cached value, nil without error on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, keyPrefix+tenantID+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores value under the tenant's key with ttl.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, keyPrefix+tenantID+":"+key, value, ttl).Err()
}

// Delete removes the tenant's key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, keyPrefix+tenantID+":"+key).Err()
}

// GetRateSet returns a cached resolver result, nil on a miss.
func (c *RedisCache) GetRateSet(ctx context.Context, tenantID string, key string) ([]*domain.Rate, error) {
	return decodeRateSet(c.Get(ctx, tenantID, key))
}

// SetRateSet caches a resolver result.
func (c *RedisCache) SetRateSet(ctx context.Context, tenantID string, key string, rates []*domain.Rate, ttl time.Duration) error {
	data, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
