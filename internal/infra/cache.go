package infra

import (
	"sync"
	"time"
)

// cacheEntry pairs a value with the wall-clock time it was stored.
type cacheEntry[V any] struct {
	at    time.Time
	value V
}

// ttlCache is a keyed cache whose staleness is purely a wall-clock delta
// at read time; there are no invalidation events. Negative results are
// cached like any other value.
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry[V]
	now     func() time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
		now:     time.Now,
	}
}

// get returns the cached value for key if it is still fresh.
func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// put stores value for key with a fresh timestamp.
func (c *ttlCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{at: c.now(), value: value}
}
