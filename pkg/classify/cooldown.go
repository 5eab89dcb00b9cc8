// Copyright 2024-2026 Aiku AI

package classify

import (
	"sync"
	"time"
)

// cooldownCache suppresses repeated identical events within a time window.
// Keys are (origin, type, subject) triples. Guarded by a single mutex; the
// hot path is one map read plus at most one write. Expired entries are
// evicted lazily on touch and in bulk by Sweep.
type cooldownCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newCooldownCache(window time.Duration) *cooldownCache {
	return &cooldownCache{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Touch records the key and reports whether it was already seen within the
// window. Only the first toucher within a window gets false.
func (c *cooldownCache) Touch(key string) (suppressed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.seen[key]; ok && now.Sub(last) < c.window {
		return true
	}
	c.seen[key] = now
	return false
}

// Sweep drops all entries older than the window and returns how many were
// removed. Called periodically so the cache cannot grow without bound.
func (c *cooldownCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, last := range c.seen {
		if now.Sub(last) >= c.window {
			delete(c.seen, key)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count.
func (c *cooldownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
