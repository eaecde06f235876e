package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/reelrank/internal/adapters/cache"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/pkg/metrics"
)

// Cached serves FetchRankings from a TTL cache. Any mutation of a
// partition drops its entry before and after the call, whatever the
// outcome, since a failed call may still have reached the server. A fetch
// that overlaps a mutation is returned to its caller but never cached.
type Cached struct {
	inner   Repository
	entries *cache.TTL[model.Partition, model.RankedList]

	mu   sync.Mutex
	gens map[model.Partition]uint64
}

// NewCached wraps inner with a cache whose entries live for ttl.
func NewCached(inner Repository, ttl time.Duration, opts ...cache.Option) *Cached {
	return &Cached{
		inner:   inner,
		entries: cache.New[model.Partition, model.RankedList](ttl, opts...),
		gens:    make(map[model.Partition]uint64),
	}
}

// FetchRankings implements Repository.
func (c *Cached) FetchRankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error) {
	p := model.Partition{UserID: userID, ContentType: ct}
	if l, ok := c.entries.Get(p); ok {
		metrics.RecordCacheHit()
		return l.Clone(), nil
	}
	metrics.RecordCacheMiss()
	gen := c.generation(p)
	l, err := c.inner.FetchRankings(ctx, userID, ct)
	if err != nil {
		return nil, err
	}
	c.store(p, gen, l.Clone())
	return l, nil
}

func (c *Cached) generation(p model.Partition) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[p]
}

// store caches l unless p was invalidated since gen was read.
func (c *Cached) store(p model.Partition, gen uint64, l model.RankedList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[p] == gen {
		c.entries.Set(p, l)
	}
}

// PersistReorder implements Repository.
func (c *Cached) PersistReorder(ctx context.Context, userID string, ct model.ContentType, from, to int) error {
	c.Invalidate(userID, ct)
	defer c.Invalidate(userID, ct)
	return c.inner.PersistReorder(ctx, userID, ct, from, to)
}

// PersistDelete implements Repository.
func (c *Cached) PersistDelete(ctx context.Context, userID string, ct model.ContentType, itemID string) error {
	c.Invalidate(userID, ct)
	defer c.Invalidate(userID, ct)
	return c.inner.PersistDelete(ctx, userID, ct, itemID)
}

// Invalidate drops the cached copy of a partition.
func (c *Cached) Invalidate(userID string, ct model.ContentType) {
	p := model.Partition{UserID: userID, ContentType: ct}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[p]++
	c.entries.Delete(p)
}

// Stats reports cache activity.
func (c *Cached) Stats() cache.Stats {
	return c.entries.Stats()
}
