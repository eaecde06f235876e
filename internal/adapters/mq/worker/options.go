package worker

import (
	"time"

	"github.com/okian/reelrank/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// PoolOption applies a configuration option to the Pool.
type PoolOption func(*Pool)

// WithQueueCapacity sets how many jobs each partition may have pending.
func WithQueueCapacity(capacity int) PoolOption {
	return func(p *Pool) {
		if capacity > 0 {
			p.capacity = capacity
		}
	}
}

// WithPoolLogger sets a custom logger for the pool and its workers.
func WithPoolLogger(logger logger.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithIdleTimeout sets how long a partition worker may sit idle before it is
// stopped. Zero or less keeps workers for the life of the pool.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.idle = d
	}
}
