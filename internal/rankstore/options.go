package rankstore

import (
	"time"

	"github.com/okian/reelrank/internal/domain/ranking"
	"github.com/okian/reelrank/pkg/logger"
)

const (
	defaultErrorBuffer   = 16
	defaultLoadTimeout   = 10 * time.Second
	defaultQueueCapacity = 4
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithEngine replaces the reorder and delete engine.
func WithEngine(e *ranking.Engine) Option {
	return func(s *Store) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReloadAfterDelete reloads the partition after every successful delete.
func WithReloadAfterDelete(on bool) Option {
	return func(s *Store) {
		s.reloadAfterDelete = on
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.errBuffer = n
		}
	}
}

// WithLoadTimeout bounds background loads started by Select and Focus.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// WithQueueCapacity sets how many persistence jobs a partition may queue.
func WithQueueCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}
