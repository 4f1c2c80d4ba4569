package platform

import (
	"sync"
	"time"
)

// DefaultCacheDuration matches spec.md §3's "TTL (default 5 minutes)".
const DefaultCacheDuration = 5 * time.Minute

// Cache is the process-wide shared PlatformInfo snapshot described in
// spec.md §3: read-mostly state under a read/write guard, rebuilt on
// cache miss or explicit Refresh.
type Cache struct {
	mu       sync.RWMutex
	info     Info
	duration time.Duration
}

// NewCache builds a cache that has not yet been populated; the first
// Get call performs detection.
func NewCache(duration time.Duration) *Cache {
	if duration <= 0 {
		duration = DefaultCacheDuration
	}
	return &Cache{duration: duration}
}

// Get returns the cached snapshot, recomputing it if stale or never
// populated.
func (c *Cache) Get() Info {
	c.mu.RLock()
	info := c.info
	stale := info.DetectedAt.IsZero() || time.Since(info.DetectedAt) > c.duration
	c.mu.RUnlock()

	if !stale {
		return info
	}
	return c.Refresh()
}

// Refresh unconditionally recomputes the snapshot and swaps it in.
// DetectedAt is non-decreasing across refreshes (spec.md §8 invariant 7)
// because Detect always stamps the current time and callers never set
// it backwards.
func (c *Cache) Refresh() Info {
	info := Detect()

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	return info
}

// Set preloads the cache with a known snapshot, bypassing Detect. Useful
// for restoring a previously-serialized snapshot at startup, or for
// tests that need a deterministic PlatformInfo regardless of the host
// actually running them.
func (c *Cache) Set(info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = info
}

// Age reports how long ago the cached snapshot was detected, without
// forcing a refresh. An unpopulated cache reports an age just past its
// TTL.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info.DetectedAt.IsZero() {
		return c.duration + 1
	}
	return time.Since(c.info.DetectedAt)
}
