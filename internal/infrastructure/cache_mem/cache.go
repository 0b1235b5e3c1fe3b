package cache_mem

import (
	"sync"
	"time"
)

type entry struct {
	val []byte
	at  time.Time
}

// Cache is a short-TTL byte cache for the read path, keeping request
// bursts from re-serializing the same snapshot. A TTL of zero disables
// caching entirely (every Get misses).
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry

	now func() time.Time // injectable for deterministic tests
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

func (c *Cache) Set(key string, val []byte) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{val: val, at: c.now()}
}
