// Copyright 2024-2026 Aiku AI

package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// dedupEntry tracks one message hash inside the window.
type dedupEntry struct {
	firstSeen time.Time
	count     int
}

// dedupCache suppresses identical messages within a time window. This is the
// delivery-layer bound on relay loops the heuristics miss: even an undetected
// loop collapses to one delivery per window. Owned by the coordinator.
type dedupCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]*dedupEntry
	now    func() time.Time
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{
		window: window,
		seen:   make(map[string]*dedupEntry),
		now:    time.Now,
	}
}

// hashMessage derives the dedup key for a message occurrence.
func hashMessage(originID, username, body string) string {
	sum := sha256.Sum256([]byte(originID + "\x00" + username + "\x00" + body))
	return hex.EncodeToString(sum[:8])
}

// Seen records an occurrence and reports whether the same hash was already
// recorded within the window, along with the occurrence count so far.
func (d *dedupCache) Seen(hash string) (duplicate bool, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	entry, ok := d.seen[hash]
	if ok && now.Sub(entry.firstSeen) < d.window {
		entry.count++
		return true, entry.count
	}
	d.seen[hash] = &dedupEntry{firstSeen: now, count: 1}
	return false, 1
}

// Sweep evicts entries older than the window and returns how many were
// removed.
func (d *dedupCache) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	removed := 0
	for hash, entry := range d.seen {
		if now.Sub(entry.firstSeen) >= d.window {
			delete(d.seen, hash)
			removed++
		}
	}
	return removed
}
