// Package cache is a TTL'd text cache with per-key request coalescing.
// The playlist relay keys it by the exact upstream playlist URL; concurrent
// requests for the same key inside the freshness window cost exactly one
// upstream fetch.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	text      string
	fetchedAt time.Time
}

// TTLText caches rewritten playlist text. Entries are replaced wholesale on
// refresh, never partially updated.
type TTLText struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

func New(ttl time.Duration) *TTLText {
	return &TTLText{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// GetOrFill returns the cached text for key when younger than the TTL,
// otherwise runs fill once for all concurrent callers and stores the result.
// hit is false for the caller(s) whose request triggered or joined a fetch.
func (c *TTLText) GetOrFill(key string, fill func() (string, error)) (text string, hit bool, err error) {
	if text, ok := c.fresh(key); ok {
		return text, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished while we queued may have refreshed the key.
		if text, ok := c.fresh(key); ok {
			return text, nil
		}
		text, err := fill()
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = entry{text: text, fetchedAt: c.now()}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

func (c *TTLText) fresh(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return "", false
	}
	return e.text, true
}

// Purge drops entries older than the TTL. Optional housekeeping; stale
// entries are also ignored (and overwritten) by GetOrFill.
func (c *TTLText) Purge() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.fetchedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
