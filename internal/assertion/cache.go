package assertion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores a recipient's assertion list for a bounded time. A miss
// returns (nil, false, nil); expired entries count as misses.
type Cache interface {
	Get(ctx context.Context, email string) ([]Assertion, bool, error)
	Set(ctx context.Context, email string, assertions []Assertion) error
}

// RedisCache keeps assertion lists in Redis so every instance shares one
// cache and restarts do not refetch the world.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(email string) string {
	return "assertions:" + email
}

func (c *RedisCache) Get(ctx context.Context, email string) ([]Assertion, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("assertion cache get: %w", err)
	}

	var out []Assertion
	if err := json.Unmarshal(raw, &out); err != nil {
		// A corrupt entry is a miss; the refresh overwrites it.
		return nil, false, nil
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, email string, assertions []Assertion) error {
	raw, err := json.Marshal(assertions)
	if err != nil {
		return fmt.Errorf("assertion cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(email), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("assertion cache set: %w", err)
	}
	return nil
}

// MemoryCache is the single-instance fallback when Redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	assertions []Assertion
	expiresAt  time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, email string) ([]Assertion, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[email]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]Assertion(nil), entry.assertions...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, email string, assertions []Assertion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[email] = memoryEntry{
		assertions: append([]Assertion(nil), assertions...),
		expiresAt:  c.now().Add(c.ttl),
	}
	return nil
}
