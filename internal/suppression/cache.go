package suppression

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// Cache is a redis-backed copy of the suppressed-domain sets. Entries expire
// on TTL and are invalidated eagerly whenever the learner writes, so the
// pipeline's per-message lookup rarely touches postgres.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache wraps an existing redis client.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(caregiverID string, p domain.Provider) string {
	return fmt.Sprintf("supdom:%s:%s", caregiverID, p)
}

// Get returns the cached domain list. The second return is false on a miss or
// any redis error; callers fall back to the store either way.
func (c *Cache) Get(ctx context.Context, caregiverID string, p domain.Provider) ([]string, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(caregiverID, p)).Result()
	if err != nil {
		return nil, false
	}
	var domains []string
	if err := json.Unmarshal([]byte(raw), &domains); err != nil {
		return nil, false
	}
	return domains, true
}

// Put stores the domain list with the configured TTL.
func (c *Cache) Put(ctx context.Context, caregiverID string, p domain.Provider, domains []string) error {
	raw, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(caregiverID, p), raw, c.ttl).Err()
}

// Invalidate drops the cached entry so the next read reloads from the store.
func (c *Cache) Invalidate(ctx context.Context, caregiverID string, p domain.Provider) error {
	return c.rdb.Del(ctx, cacheKey(caregiverID, p)).Err()
}
