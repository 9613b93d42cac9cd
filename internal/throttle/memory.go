package throttle

import (
	"sync"
	"time"
)

// MemoryCache is an in-process throttle cache for tests and local runs.
type MemoryCache struct {
	mu     sync.Mutex
	blocks map[string]time.Time
}

// NewMemoryCache constructs a MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{blocks: make(map[string]time.Time)}
}

// Blocked reports whether the target's block is still in effect.
func (c *MemoryCache) Blocked(targetID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.blocks[targetID]
	if !ok {
		return 0, false
	}
	remaining := time.Until(until)
	if remaining <= 0 {
		delete(c.blocks, targetID)
		return 0, false
	}
	return remaining, true
}

// Block records a block for the target lasting d.
func (c *MemoryCache) Block(targetID string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[targetID] = time.Now().Add(d)
	return nil
}
