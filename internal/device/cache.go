// Package device provides HID device attribute resolution and caching.
// The hidraw transport knows a device only as a character-device node;
// this package resolves the node to its sysfs identity (name, phys, uniq,
// vendor/product) and caches the result.
package device

import (
	"sync"
	"time"
)

// Meta holds the sysfs-sourced identity of one HID device.
type Meta struct {
	Name    string
	Phys    string
	Uniq    string
	BusType uint32
	Vendor  uint16
	Product uint16
}

// cacheEntry wraps Meta with an expiry time for TTL eviction.
type cacheEntry struct {
	meta    Meta
	expires time.Time
}

// Cache is a thread-safe cache mapping hidraw node names ("hidraw3") to
// device metadata, with TTL and bounded size. Devices come and go (and
// node names get reused), so entries must age out.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration

	// resolve reads the node's sysfs uevent; swappable for tests.
	resolve func(node string) (Meta, error)
}

// CacheConfig configures the device metadata cache.
type CacheConfig struct {
	MaxSize int           // maximum number of node entries (default: 256)
	TTL     time.Duration // TTL for cache entries (default: 60s)
}

// DefaultCacheConfig returns sensible default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: 256,
		TTL:     60 * time.Second,
	}
}

// NewCache creates a device metadata cache backed by sysfs.
func NewCache(config CacheConfig) *Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = 256
	}
	if config.TTL <= 0 {
		config.TTL = 60 * time.Second
	}
	return &Cache{
		entries: make(map[string]cacheEntry, config.MaxSize),
		maxSize: config.MaxSize,
		ttl:     config.TTL,
		resolve: ResolveSysfs,
	}
}

// Lookup resolves a hidraw node name to device metadata, consulting sysfs
// on a miss or after expiry.
func (c *Cache) Lookup(node string) (Meta, bool) {
	c.mu.RLock()
	entry, found := c.entries[node]
	c.mu.RUnlock()

	if found && time.Now().Before(entry.expires) {
		return entry.meta, true
	}

	meta, err := c.resolve(node)
	if err != nil {
		return Meta{}, false
	}
	c.set(node, meta)
	return meta, true
}

// Invalidate drops a node's entry, e.g. when its device disappears.
func (c *Cache) Invalidate(node string) {
	c.mu.Lock()
	delete(c.entries, node)
	c.mu.Unlock()
}

// set stores an entry with TTL, evicting if the cache is full.
func (c *Cache) set(node string, meta Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[node] = cacheEntry{
		meta:    meta,
		expires: time.Now().Add(c.ttl),
	}
}

// evict removes expired entries. If still over capacity, removes ~25%.
func (c *Cache) evict() {
	now := time.Now()
	for node, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, node)
		}
	}

	if len(c.entries) >= c.maxSize {
		toRemove := c.maxSize / 4
		removed := 0
		for node := range c.entries {
			if removed >= toRemove {
				break
			}
			delete(c.entries, node)
			removed++
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
