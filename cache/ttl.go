// Package cache provides small in-memory lookup tables with per-entry expiry
// and an opportunistic sweeper that prunes them off the request path.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 500
)

// Stats is a snapshot of a table's counters.
type Stats struct {
	Name      string        `json:"name"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Expired   int64         `json:"expired"`
	Size      int           `json:"size"`
	TTL       time.Duration `json:"ttl"`
}

// Option configures a TTL table.
type Option func(*options)

type options struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// WithTTL sets how long entries stay valid.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithMaxSize bounds the number of entries. When full, Set evicts one
// arbitrary entry.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a map whose entries expire a fixed time after they were set.
// Expired entries are never returned; they are removed lazily by Get or in
// bulk by Sweep.
type TTL[K comparable, V any] struct {
	name    string
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New creates an empty table. name appears in Stats and sweep logs.
func New[K comparable, V any](name string, opts ...Option) *TTL[K, V] {
	o := options{ttl: DefaultTTL, maxSize: DefaultMaxSize, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.maxSize <= 0 {
		o.maxSize = DefaultMaxSize
	}
	return &TTL[K, V]{
		name:    name,
		entries: make(map[K]entry[V]),
		ttl:     o.ttl,
		maxSize: o.maxSize,
		now:     o.now,
	}
}

// Name returns the table name.
func (c *TTL[K, V]) Name() string { return c.name }

// Get returns the value for key if it is present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.misses.Add(1)
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
			c.expired.Add(1)
		}
		c.mu.Unlock()
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for the table's TTL.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			c.evictions.Add(1)
			break
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.sets.Add(1)
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.deletes.Add(1)
	}
}

// DeleteFunc removes every entry whose key matches and returns the count.
func (c *TTL[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			n++
		}
	}
	c.deletes.Add(int64(n))
	return n
}

// Clear removes every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many it removed.
func (c *TTL[K, V]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	c.expired.Add(int64(n))
	return n
}

// Stats returns the table's counters.
func (c *TTL[K, V]) Stats() Stats {
	return Stats{
		Name:      c.name,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}
