// Package dedupe remembers which mutation requests were already applied.
//
// Reorders are expressed as index moves, so replaying one is not harmless:
// a retried request must be recognised and skipped.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen request ids.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed request can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps the most recent maxSize ids and evicts the oldest
// first. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64 // id -> insertion sequence
	order   []string          // ring of ids in insertion order
	seqs    []uint64          // sequence stored alongside each ring slot
	head    int               // oldest slot
	count   int               // occupied slots
	nextSeq uint64
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	if d.maxSize > 0 {
		d.order = make([]string, d.maxSize)
		d.seqs = make([]uint64, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.nextSeq++
	d.seen[id] = d.nextSeq
	if d.maxSize <= 0 {
		return false
	}

	if d.count == d.maxSize {
		d.evictOldest()
	}
	slot := (d.head + d.count) % d.maxSize
	d.order[slot] = id
	d.seqs[slot] = d.nextSeq
	d.count++
	return false
}

// evictOldest frees the oldest ring slot. A slot whose id was unrecorded
// (or recorded again later) is stale and frees space without touching the map.
func (d *inMemoryDeduper) evictOldest() {
	id, seq := d.order[d.head], d.seqs[d.head]
	d.order[d.head] = ""
	d.head = (d.head + 1) % d.maxSize
	d.count--
	if cur, ok := d.seen[id]; ok && cur == seq {
		delete(d.seen, id)
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// The ring slot goes stale and is skipped on eviction.
	delete(d.seen, id)
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
