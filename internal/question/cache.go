package question

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// cacheTTL bounds staleness for snapshots that miss an explicit
// invalidation.
const cacheTTL = 24 * time.Hour

// RedisCache is a write-through snapshot of industry-code question
// mappings, keyed by insurer and industry code. It is an optimization
// only: every failure path reports a miss and the engine falls back to
// the store.
type RedisCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisCache creates a cache backed by the given redis client.
func NewRedisCache(rdb *redis.Client, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		rdb: rdb,
		log: log.With().Str("component", "question_cache").Logger(),
	}
}

func cacheKey(insurerID, industryCode int64) string {
	return fmt.Sprintf("quotecore:questions:industry:%d:%d", insurerID, industryCode)
}

// GetIndustryMappings returns the cached snapshot for an
// insurer/industry pair. Any redis or decode failure is a miss.
func (c *RedisCache) GetIndustryMappings(ctx context.Context, insurerID, industryCode int64) ([]CodeMapping, bool) {
	data, err := c.rdb.Get(ctx, cacheKey(insurerID, industryCode)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Int64("insurer_id", insurerID).Int64("industry_code", industryCode).
			Msg("cache read failed; falling back to store")
		return nil, false
	}

	var mappings []CodeMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		c.log.Warn().Err(err).Int64("insurer_id", insurerID).Int64("industry_code", industryCode).
			Msg("cache entry corrupt; falling back to store")
		return nil, false
	}
	return mappings, true
}

// SetIndustryMappings writes a snapshot. Failures are logged, never
// surfaced; the next read simply misses.
func (c *RedisCache) SetIndustryMappings(ctx context.Context, insurerID, industryCode int64, mappings []CodeMapping) {
	if mappings == nil {
		mappings = []CodeMapping{} // cache negative results too
	}
	data, err := json.Marshal(mappings)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(insurerID, industryCode), data, cacheTTL).Err(); err != nil {
		c.log.Warn().Err(err).Int64("insurer_id", insurerID).Int64("industry_code", industryCode).
			Msg("cache write failed")
	}
}

// Invalidate drops the snapshot for one insurer/industry pair. A zero
// insurerID or industryCode widens the invalidation to every key
// matching the remaining dimension.
func (c *RedisCache) Invalidate(ctx context.Context, insurerID, industryCode int64) {
	if insurerID != 0 && industryCode != 0 {
		if err := c.rdb.Del(ctx, cacheKey(insurerID, industryCode)).Err(); err != nil {
			c.log.Warn().Err(err).Msg("cache invalidation failed")
		}
		return
	}

	pattern := "quotecore:questions:industry:*"
	switch {
	case insurerID != 0:
		pattern = fmt.Sprintf("quotecore:questions:industry:%d:*", insurerID)
	case industryCode != 0:
		pattern = fmt.Sprintf("quotecore:questions:industry:*:%d", industryCode)
	}

	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", iter.Val()).Msg("cache invalidation failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation scan failed")
	}
}
