package rules

import "time"

// RuleSetCache provides an abstraction for caching the rule sets of a target
// in front of the store. Implementations exist for in-memory and Redis.
type RuleSetCache interface {
	// Get retrieves cached rule sets, returns nil if cache miss or expired
	Get(target string) []*RuleSet

	// Set stores rule sets for a target
	Set(target string, ruleSets []*RuleSet)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data for a target
	IsValid(target string) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule-set caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
