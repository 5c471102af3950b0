// Package cache implements domain.Cache: an in-process LRU for single
// nodes, Redis for distributed deployments, and a two-phase combination
// of the two. Resolver rate sets and reference value lookups are the
// only tenants of this layer, so the helpers speak in those terms.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/camal-digital/tarifario/internal/domain"
)

// LRUCache is a tenant-scoped in-process cache with per-entry TTL.
// Expired entries are dropped lazily on read; capacity is enforced by
// evicting from the least recently used end.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLRUCache creates a cache holding at most capacity entries; values
// <= 0 get a default of 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// Get returns the cached value, or nil without error on a miss. A hit
// refreshes the entry's recency.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[tenantID+":"+key]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expires) {
		c.evict(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under the tenant's key for ttl.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	full := tenantID + ":" + key

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expires = time.Now().Add(ttl)
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[full] = c.recency.PushFront(&lruEntry{
		key:     full,
		value:   value,
		expires: time.Now().Add(ttl),
	})
	for len(c.entries) > c.capacity {
		c.evict(c.recency.Back())
	}
	return nil
}

// Delete removes the tenant's key. Deleting a missing key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[tenantID+":"+key]; ok {
		c.evict(elem)
	}
	return nil
}

// GetRateSet returns a cached resolver result, nil on a miss.
func (c *LRUCache) GetRateSet(ctx context.Context, tenantID string, key string) ([]*domain.Rate, error) {
	return decodeRateSet(c.Get(ctx, tenantID, key))
}

// SetRateSet caches a resolver result.
func (c *LRUCache) SetRateSet(ctx context.Context, tenantID string, key string, rates []*domain.Rate, ttl time.Duration) error {
	data, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}

// Ping always succeeds; the in-process cache has no backing service to check.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	return nil
}

// Stats reports current occupancy.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.capacity
}

// evict removes elem; callers hold the lock.
func (c *LRUCache) evict(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}

// decodeRateSet turns a raw Get result into rates, passing misses and
// errors through.
func decodeRateSet(data []byte, err error) ([]*domain.Rate, error) {
	if err != nil || data == nil {
		return nil, err
	}
	var rates []*domain.Rate
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, err
	}
	return rates, nil
}
