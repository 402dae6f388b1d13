// Package cache provides a Redis-backed cache for resolved active flow
// versions.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hrplatform/backend/pkg/models"
)

// DefaultTTL bounds staleness if an invalidation is ever lost.
const DefaultTTL = 5 * time.Minute

// RedisVersionCache caches the active flow version per (tenant, flowType)
// in Redis. All operations are best-effort: Redis errors degrade to cache
// misses and never surface to callers.
type RedisVersionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisVersionCache creates a cache on the given client. ttl <= 0 uses
// DefaultTTL.
func NewRedisVersionCache(client *redis.Client, ttl time.Duration) *RedisVersionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisVersionCache{client: client, ttl: ttl}
}

func cacheKey(tenantID, flowType string) string {
	return fmt.Sprintf("flowversion:%s:%s", tenantID, flowType)
}

// Get returns the cached version for the flow type, if present.
func (c *RedisVersionCache) Get(ctx context.Context, tenantID, flowType string) (*models.FlowVersion, bool) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID, flowType)).Bytes()
	if err != nil {
		return nil, false
	}
	var version models.FlowVersion
	if err := json.Unmarshal(raw, &version); err != nil {
		return nil, false
	}
	return &version, true
}

// Put stores the version under the flow type key.
func (c *RedisVersionCache) Put(ctx context.Context, tenantID, flowType string, version *models.FlowVersion) {
	raw, err := json.Marshal(version)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(tenantID, flowType), raw, c.ttl)
}

// Invalidate drops the cached version for the flow type.
func (c *RedisVersionCache) Invalidate(ctx context.Context, tenantID, flowType string) {
	c.client.Del(ctx, cacheKey(tenantID, flowType))
}
