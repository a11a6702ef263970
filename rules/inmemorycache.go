package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	ruleSets []*RuleSet
	cachedAt time.Time
}

// InMemoryRuleSetCache is a simple in-memory implementation of RuleSetCache.
// Thread-safe for concurrent access.
type InMemoryRuleSetCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRuleSetCache creates a new in-memory rule-set cache
func NewInMemoryRuleSetCache(config CacheConfig) *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached rule sets for a target.
// Returns nil if the entry is missing or expired.
func (c *InMemoryRuleSetCache) Get(target string) []*RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[target]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications
	ruleSets := make([]*RuleSet, len(entry.ruleSets))
	copy(ruleSets, entry.ruleSets)
	return ruleSets
}

// Set stores rule sets for a target
func (c *InMemoryRuleSetCache) Set(target string, ruleSets []*RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]*RuleSet, len(ruleSets))
	copy(stored, ruleSets)
	c.entries[target] = cacheEntry{ruleSets: stored, cachedAt: time.Now()}
}

// Invalidate clears the cache
func (c *InMemoryRuleSetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// IsValid returns true if the cache holds a live entry for target
func (c *InMemoryRuleSetCache) IsValid(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[target]
	if !ok {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(entry.cachedAt) <= c.config.TTL
	}
	return true
}
