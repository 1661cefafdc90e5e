package sandbox

import "sync"

// Cache stores process results by fingerprint.
//
// Implementations must be safe for concurrent use. Results of timed-out
// processes are never stored.
type Cache interface {
	Get(fp Fingerprint) (*FallibleProcessResult, bool)
	Put(fp Fingerprint, res *FallibleProcessResult)
}

// MemoryCache is an in-process Cache shared across sessions.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Fingerprint]FallibleProcessResult
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Fingerprint]FallibleProcessResult)}
}

// Get returns a copy of the cached result for fp.
func (c *MemoryCache) Get(fp Fingerprint) (*FallibleProcessResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	return &res, true
}

// Put stores a copy of res under fp.
func (c *MemoryCache) Put(fp Fingerprint, res *FallibleProcessResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = *res
}

// Len returns the number of cached results.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
