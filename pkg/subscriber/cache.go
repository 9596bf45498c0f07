package subscriber

import (
	"strings"
	"sync"
)

// MemoryCache is an in-process query cache. Invalidating "properties" also
// drops "properties/<id>" entries.
type MemoryCache struct {
	mu            sync.RWMutex
	entries       map[string]any
	invalidations map[string]int
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:       make(map[string]any),
		invalidations: make(map[string]int),
	}
}

// Get returns the cached value for key.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key.
func (c *MemoryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations[key]++
	prefix := key + "/"
	for k := range c.entries {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Invalidations returns how often key was invalidated.
func (c *MemoryCache) Invalidations(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidations[key]
}
