package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"daypartd/internal/metrics"
	"daypartd/internal/model"
)

// DefinitionCache keeps resolved per-store definition sets in redis
// with a TTL. A nil cache (or nil client) degrades to pass-through.
type DefinitionCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewDefinitionCache wraps a redis client. Returns nil when caching is
// disabled so callers can treat the cache as optional.
func NewDefinitionCache(rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) *DefinitionCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &DefinitionCache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(storeID, conceptID string) string {
	return fmt.Sprintf("daypartd:defs:%s:%s", storeID, conceptID)
}

// Get returns the cached effective definitions for a store, if present.
// Cache trouble is logged and treated as a miss; redis is an
// accelerator, never a source of truth.
func (c *DefinitionCache) Get(ctx context.Context, storeID, conceptID string) ([]model.DaypartDefinition, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, cacheKey(storeID, conceptID)).Bytes()
	if err == redis.Nil {
		metrics.IncCacheLookup("miss")
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("store_id", storeID).Msg("definition cache read failed")
		metrics.IncCacheLookup("error")
		return nil, false
	}

	var defs []model.DaypartDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		c.logger.Warn().Err(err).Str("store_id", storeID).Msg("definition cache entry corrupt")
		metrics.IncCacheLookup("error")
		return nil, false
	}
	metrics.IncCacheLookup("hit")
	return defs, true
}

// Set stores the effective definitions for a store.
func (c *DefinitionCache) Set(ctx context.Context, storeID, conceptID string, defs []model.DaypartDefinition) {
	if c == nil {
		return
	}
	data, err := json.Marshal(defs)
	if err != nil {
		c.logger.Warn().Err(err).Msg("definition cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(storeID, conceptID), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("store_id", storeID).Msg("definition cache write failed")
	}
}

// Invalidate drops every cached definition set.
func (c *DefinitionCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "daypartd:defs:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("definition cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("definition cache invalidation failed")
	}
}
