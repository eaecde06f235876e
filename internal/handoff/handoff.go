// Package handoff passes a short-lived value from one screen to another.
//
// A producer offers a value and receives a correlation id; exactly one
// consumer can claim it with that id. Concurrent handoffs never share state.
package handoff

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/okian/reelrank/internal/adapters/cache"
)

// DefaultTTL bounds how long an unclaimed value is kept.
const DefaultTTL = 5 * time.Minute

// ErrNotFound is returned when an id is unknown, expired or already claimed.
var ErrNotFound = errors.New("handoff not found")

// Broker holds pending values keyed by correlation id.
type Broker[T any] struct {
	pending *cache.TTL[string, T]
	newID   func() string
}

// Option applies a configuration option to a Broker.
type Option func(*options)

type options struct {
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// WithTTL sets how long unclaimed values live.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// New creates a broker.
func New[T any](opts ...Option) *Broker[T] {
	o := options{ttl: DefaultTTL, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	var cacheOpts []cache.Option
	if o.now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(o.now))
	}
	return &Broker[T]{
		pending: cache.New[string, T](o.ttl, cacheOpts...),
		newID:   o.newID,
	}
}

// Offer stores v and returns the id the consumer must present.
func (b *Broker[T]) Offer(v T) string {
	id := b.newID()
	b.pending.Set(id, v)
	return id
}

// Claim returns the value for id and forgets it.
func (b *Broker[T]) Claim(id string) (T, error) {
	v, ok := b.pending.Take(id)
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

// Cancel drops an unclaimed value.
func (b *Broker[T]) Cancel(id string) {
	b.pending.Delete(id)
}

// Pending returns the number of stored values, expired ones included.
func (b *Broker[T]) Pending() int {
	return b.pending.Len()
}
