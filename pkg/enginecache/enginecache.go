// Package enginecache memoizes constructed conversion engines across jobs.
//
// Engine construction is the expensive step of a conversion; the keep-warm
// worker amortizes it by keying built engines on their full effective
// settings. Entries live for the process lifetime unless explicitly reset.
package enginecache

import (
	"sync"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/engine"
)

// Stats reports cache activity counters.
type Stats struct {
	Builds int `json:"builds"`
	Hits   int `json:"hits"`
}

// Cache is a mutex-guarded engine memo. The zero value is not usable; call
// New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]engine.Engine
	stats   Stats
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]engine.Engine)}
}

// GetOrBuild returns the cached engine for the key, building and storing one
// on a miss. The bool reports whether the entry was already cached.
//
// The build function runs under the cache lock so two jobs with the same key
// never build twice; the worker runs one job at a time, so the lock is never
// contended in practice.
func (c *Cache) GetOrBuild(key string, build func() (engine.Engine, error)) (engine.Engine, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.entries[key]; ok {
		c.stats.Hits++
		return cached, true, nil
	}

	built, err := build()
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = built
	c.stats.Builds++
	return built, false, nil
}

// Reset drops all entries and zeroes the counters. Primarily for tests.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]engine.Engine)
	c.stats = Stats{}
}

// Stats returns a copy of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the number of cached engines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
