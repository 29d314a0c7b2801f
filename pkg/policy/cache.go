package policy

import (
	"sync"
	"sync/atomic"
	"time"
)

// ruleCache is a TTL-based in-memory cache with stale-while-revalidate for
// resolved rules. Uses sync.Map for lock-free reads on the hot path.
type ruleCache struct {
	store sync.Map // map[string]*ruleCacheEntry
	ttl   time.Duration
}

type ruleCacheEntry struct {
	rule       *Rule // nil = negative cache (no rule for this pair)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// cacheGetResult holds the result of a cache lookup.
type cacheGetResult struct {
	rule         *Rule // nil if not found or negative cache
	hit          bool  // true if a value was found (fresh or stale)
	needsRefresh bool  // true if expired — caller should refresh in background
}

func newRuleCache(ttl time.Duration) *ruleCache {
	return &ruleCache{ttl: ttl}
}

// cacheKey builds the lookup key for a pack+tool pair.
func cacheKey(packID, toolName string) string {
	return packID + ":" + toolName
}

// get performs a non-blocking cache lookup.
// Returns stale entries with needsRefresh=true when expired.
func (c *ruleCache) get(packID, toolName string) cacheGetResult {
	val, ok := c.store.Load(cacheKey(packID, toolName))
	if !ok {
		return cacheGetResult{hit: false}
	}

	entry := val.(*ruleCacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return cacheGetResult{rule: entry.rule, hit: true}
	}

	// Stale hit — signal refresh needed (only one goroutine wins the CAS)
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return cacheGetResult{
		rule:         entry.rule,
		hit:          true,
		needsRefresh: needsRefresh,
	}
}

// set stores a resolved rule with a fresh TTL.
// Passing nil stores a negative cache entry (no rule).
func (c *ruleCache) set(packID, toolName string, rule *Rule) {
	c.store.Store(cacheKey(packID, toolName), &ruleCacheEntry{
		rule:      rule,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// delete removes an entry from the cache.
func (c *ruleCache) delete(packID, toolName string) {
	c.store.Delete(cacheKey(packID, toolName))
}
