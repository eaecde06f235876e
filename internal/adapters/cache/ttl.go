// Package cache provides a small key/value store with lazy expiry.
//
// Entries are checked on read; there is no background sweeper and no
// eviction policy. Cardinality is expected to stay low (a handful of
// partitions or pending handoffs per process).
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e Entry[V]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Stats reports cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Expired int64
	Keys    int
}

// Option applies a configuration option to a TTL cache.
type Option func(*config)

type config struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// TTL is a concurrency-safe map whose entries expire after a fixed duration.
// A zero or negative ttl keeps entries until deleted.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]Entry[V]
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

// New creates a TTL cache.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *TTL[K, V] {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TTL[K, V]{
		entries: make(map[K]Entry[V]),
		ttl:     ttl,
		now:     cfg.now,
	}
}

// Set stores v under k.
func (c *TTL[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Entry[V]{Value: v}
	if c.ttl > 0 {
		e.ExpiresAt = c.now().Add(c.ttl)
	}
	c.entries[k] = e
}

// Get returns the live value stored under k.
func (c *TTL[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(k, false)
}

// Take returns the live value stored under k and removes it.
func (c *TTL[K, V]) Take(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(k, true)
}

func (c *TTL[K, V]) lookup(k K, remove bool) (V, bool) {
	var zero V
	e, ok := c.entries[k]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.entries, k)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}
	if remove {
		delete(c.entries, k)
	}
	c.stats.Hits++
	return e.Value, true
}

// Delete removes k.
func (c *TTL[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache activity.
func (c *TTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Keys = len(c.entries)
	return s
}
