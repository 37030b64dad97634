// Package optioncache remembers resolved image options per route for a
// bounded time, so later pipeline phases avoid re-deriving them.
package optioncache

import (
	"sync"
	"time"

	"github.com/previewkit/ogpipe/internal/clock/system"
	"github.com/previewkit/ogpipe/internal/ogimage"
)

// Cache maps routes to resolved-option snapshots with per-entry expiry.
// Expired entries are treated as absent at read time; there is no
// background sweeper. All operations are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	clock      ogimage.Clock
	staticTTL  time.Duration
	dynamicTTL time.Duration
}

type entry struct {
	value     ogimage.ImageOptions
	expiresAt time.Time
}

// Config parameterizes a Cache. Static entries back build-time generation
// and must survive the whole batch; dynamic entries back runtime request
// handling and must go stale quickly.
type Config struct {
	StaticTTL  time.Duration
	DynamicTTL time.Duration
	Clock      ogimage.Clock
}

const (
	defaultStaticTTL  = time.Hour
	defaultDynamicTTL = 5 * time.Second
)

// New constructs a Cache.
func New(cfg Config) *Cache {
	if cfg.StaticTTL <= 0 {
		cfg.StaticTTL = defaultStaticTTL
	}
	if cfg.DynamicTTL <= 0 {
		cfg.DynamicTTL = defaultDynamicTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &Cache{
		entries:    map[string]entry{},
		clock:      cfg.Clock,
		staticTTL:  cfg.StaticTTL,
		dynamicTTL: cfg.DynamicTTL,
	}
}

// Put stores a snapshot for route with an explicit TTL.
func (c *Cache) Put(route string, value ogimage.ImageOptions, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[route] = entry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// Store stores a snapshot using the TTL implied by its static flag.
func (c *Cache) Store(value ogimage.ImageOptions) {
	c.Put(value.Route, value, c.TTLFor(value))
}

// Get returns the snapshot for route. Absence covers both "never set" and
// "expired"; expired entries are dropped on read.
func (c *Cache) Get(route string) (ogimage.ImageOptions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[route]
	if !ok {
		return ogimage.ImageOptions{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, route)
		return ogimage.ImageOptions{}, false
	}
	return e.value, true
}

// TTLFor selects the lifetime appropriate for a snapshot.
func (c *Cache) TTLFor(value ogimage.ImageOptions) time.Duration {
	if value.Static {
		return c.staticTTL
	}
	return c.dynamicTTL
}

// Len reports the number of stored entries, including any not yet
// observed as expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
