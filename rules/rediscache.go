package rules

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rulekit/rulekit/internal/logger"
)

// RedisRuleSetCache implements RuleSetCache on Redis so multiple engine
// instances share one cache. Entries are stored as JSON under
// <prefix>:<target>. Redis failures degrade to cache misses; the store stays
// the source of truth.
type RedisRuleSetCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRuleSetCache creates a Redis-backed rule-set cache. A zero TTL in
// config means entries live until Invalidate.
func NewRedisRuleSetCache(client *redis.Client, prefix string, config CacheConfig) *RedisRuleSetCache {
	if prefix == "" {
		prefix = "rulesets"
	}
	return &RedisRuleSetCache{
		client: client,
		prefix: prefix,
		ttl:    config.TTL,
	}
}

func (c *RedisRuleSetCache) key(target string) string {
	return c.prefix + ":" + target
}

// Get retrieves cached rule sets for a target
func (c *RedisRuleSetCache) Get(target string) []*RuleSet {
	raw, err := c.client.Get(context.Background(), c.key(target)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("redis cache get failed", "target", target, "error", err)
		}
		return nil
	}

	var ruleSets []*RuleSet
	if err := json.Unmarshal(raw, &ruleSets); err != nil {
		logger.Warn("redis cache entry corrupt, dropping", "target", target, "error", err)
		c.client.Del(context.Background(), c.key(target))
		return nil
	}
	return ruleSets
}

// Set stores rule sets for a target
func (c *RedisRuleSetCache) Set(target string, ruleSets []*RuleSet) {
	raw, err := json.Marshal(ruleSets)
	if err != nil {
		logger.Warn("failed to encode rule sets for cache", "target", target, "error", err)
		return
	}
	if err := c.client.Set(context.Background(), c.key(target), raw, c.ttl).Err(); err != nil {
		logger.Warn("redis cache set failed", "target", target, "error", err)
	}
}

// Invalidate clears all cached entries under the prefix
func (c *RedisRuleSetCache) Invalidate() {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warn("redis cache invalidation failed", "error", err)
	}
}

// IsValid returns true if the cache holds an entry for target
func (c *RedisRuleSetCache) IsValid(target string) bool {
	n, err := c.client.Exists(context.Background(), c.key(target)).Result()
	return err == nil && n > 0
}
