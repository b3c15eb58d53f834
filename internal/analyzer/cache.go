package analyzer

import (
	"sync"
	"time"

	"github.com/ppiankov/meshspectre/internal/models"
)

type cacheEntry struct {
	detail    *models.AppHealthDetail
	expiresAt time.Time
}

// DetailCache holds recent drill-down results keyed by namespace/app.
type DetailCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewDetailCache creates a cache with the given TTL. A non-positive TTL
// disables caching.
func NewDetailCache(ttl time.Duration) *DetailCache {
	return &DetailCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: 1000,
		now:     time.Now,
	}
}

// Get returns a cached detail, or nil when absent or expired.
func (c *DetailCache) Get(key string) *models.AppHealthDetail {
	if c == nil || c.ttl <= 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil
	}
	return entry.detail
}

// Set stores detail under key.
func (c *DetailCache) Set(key string, detail *models.AppHealthDetail) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[key] = &cacheEntry{
		detail:    detail,
		expiresAt: c.now().Add(c.ttl),
	}
}

// evict drops expired entries, then a tenth of the rest if still full.
func (c *DetailCache) evict() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) >= c.maxSize {
		target := c.maxSize / 10
		if target < 1 {
			target = 1
		}
		removed := 0
		for key := range c.entries {
			delete(c.entries, key)
			removed++
			if removed >= target {
				break
			}
		}
	}
}

// Size returns the number of entries, including expired ones not yet evicted.
func (c *DetailCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
