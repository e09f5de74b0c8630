package cache

import (
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the default number of entries a TTLCache holds.
	DefaultMaxSize = 1000
	// DefaultTTL is applied by Put when no explicit TTL is given.
	DefaultTTL = time.Hour
)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`   // capacity evictions only
	Expirations int64 `json:"expirations"` // entries dropped because their TTL elapsed
	Insertions  int64 `json:"insertions"`  // every successful Put, including overwrites
	Size        int   `json:"size"`
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means the entry never expires
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// TTLCache is a bounded in-memory map whose entries expire after a per-entry TTL.
// All methods are safe for concurrent use; contents and counters share one lock.
type TTLCache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]entry[V]
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	stats      Stats
}

// TTLOption customises a TTLCache.
type TTLOption func(*ttlConfig)

type ttlConfig struct {
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
}

// WithMaxSize caps the number of live entries.
func WithMaxSize(n int) TTLOption {
	return func(cfg *ttlConfig) {
		if n > 0 {
			cfg.maxSize = n
		}
	}
}

// WithDefaultTTL overrides the TTL used by Put. Zero disables expiry for Put.
func WithDefaultTTL(ttl time.Duration) TTLOption {
	return func(cfg *ttlConfig) {
		if ttl >= 0 {
			cfg.defaultTTL = ttl
		}
	}
}

// WithClock injects the time source; intended for tests.
func WithClock(now func() time.Time) TTLOption {
	return func(cfg *ttlConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// NewTTLCache creates an empty cache.
func NewTTLCache[K comparable, V any](opts ...TTLOption) *TTLCache[K, V] {
	cfg := &ttlConfig{
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &TTLCache[K, V]{
		items:      make(map[K]entry[V], cfg.maxSize),
		maxSize:    cfg.maxSize,
		defaultTTL: cfg.defaultTTL,
		now:        cfg.now,
	}
}

// Put stores value under key using the default TTL.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.PutWithTTL(key, value, c.defaultTTL)
}

// PutWithTTL stores value under key. A ttl of zero stores the entry without expiry.
func (c *TTLCache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictLocked()
	}

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.items[key] = e
	c.stats.Insertions++
}

// Get returns the value for key when present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Contains reports whether key holds a live entry. It does not touch hit/miss counters.
func (c *TTLCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		c.stats.Expirations++
		return false
	}
	return true
}

// Remove deletes key and reports whether it was present.
func (c *TTLCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V], c.maxSize)
}

// Len returns the number of stored entries, including ones not yet lazily expired.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *TTLCache[K, V]) sweepLocked(now time.Time) {
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			c.stats.Expirations++
		}
	}
}

// evictLocked drops the entry closest to expiring. Entries without expiry go last.
func (c *TTLCache[K, V]) evictLocked() {
	var (
		victim K
		soon   time.Time
		found  bool
	)
	for k, e := range c.items {
		if !found {
			victim, soon, found = k, e.expiresAt, true
			continue
		}
		if e.expiresAt.IsZero() {
			continue
		}
		if soon.IsZero() || e.expiresAt.Before(soon) {
			victim, soon = k, e.expiresAt
		}
	}
	if found {
		delete(c.items, victim)
		c.stats.Evictions++
	}
}
