package barcode

import (
	"sync"
	"time"
)

// ResultCache is a short-TTL, capacity-bounded cache for decode outcomes.
// It absorbs bursty duplicate scans of the same camera frame from a
// client polling loop; it is not a correctness cache, so eviction is
// deliberately cheap: expired entries are dropped lazily on insert
// pressure, and if the cache is still full one arbitrary entry goes.
type ResultCache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	outcome Outcome
	expires time.Time
}

func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *ResultCache) Get(key string) (Outcome, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Outcome{}, false
	}
	if e.expires.Before(now) {
		delete(c.entries, key)
		return Outcome{}, false
	}
	return e.outcome, true
}

func (c *ResultCache) Put(key string, outcome Outcome) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		for k, e := range c.entries {
			if e.expires.Before(now) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.capacity {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}
	c.entries[key] = cacheEntry{outcome: outcome, expires: now.Add(c.ttl)}
}
