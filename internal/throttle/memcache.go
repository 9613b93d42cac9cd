// Package throttle tracks targets that asked to be left alone. Block state
// lives in a shared cache so parallel invocations for the same target back
// off together.
package throttle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheCache implements crawler.ThrottleCache on memcached.
type MemcacheCache struct {
	client *memcache.Client
	prefix string
}

// NewMemcacheCache creates a memcached-backed throttle cache.
func NewMemcacheCache(addr, prefix string) *MemcacheCache {
	if prefix == "" {
		prefix = "block:"
	}
	return &MemcacheCache{
		client: memcache.New(addr),
		prefix: prefix,
	}
}

// Blocked reports whether the target is currently blocked, along with the
// remaining block duration recorded at block time.
func (c *MemcacheCache) Blocked(targetID string) (time.Duration, bool) {
	item, err := c.client.Get(c.prefix + targetID)
	if err != nil {
		// A cache miss and an unreachable cache both mean "not blocked";
		// the worst case is one extra request against the target.
		return 0, false
	}
	secs, err := strconv.Atoi(string(item.Value))
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Block records a block for the target lasting d.
func (c *MemcacheCache) Block(targetID string, d time.Duration) error {
	secs := int32(d / time.Second)
	if secs <= 0 {
		secs = 1
	}
	err := c.client.Set(&memcache.Item{
		Key:        c.prefix + targetID,
		Value:      []byte(strconv.Itoa(int(secs))),
		Expiration: secs,
	})
	if err != nil {
		return fmt.Errorf("block %s: %w", targetID, err)
	}
	return nil
}
