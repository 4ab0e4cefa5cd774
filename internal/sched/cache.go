package sched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quantstack/tradegate/internal/observ"
)

// responseCache suppresses duplicate dispatch for rapidly repeated reads.
// A get after expiry is a miss; expired entries are removed by Sweep.
type responseCache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func newResponseCache(clock clockwork.Clock) *responseCache {
	return &responseCache{
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *responseCache) get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		observ.IncCounter("request_cache_miss_total", nil)
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		// Expired entries count as misses; the sweeper reclaims them.
		observ.IncCounter("request_cache_miss_total", nil)
		return nil, false
	}
	observ.IncCounter("request_cache_hit_total", nil)
	return e.value, true
}

func (c *responseCache) set(key string, value any, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep removes all expired entries to bound memory, returning the count.
func (c *responseCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		observ.IncCounterBy("request_cache_evictions_total", nil, float64(evicted))
	}
	return evicted
}
