// Package service provides the ranking service behind the HTTP API.
//
// Mutations of one partition are run one at a time on a per-partition
// worker and de-duplicated by request id, so a retried reorder is never
// applied twice.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/reelrank/internal/adapters/mq/queue"
	"github.com/okian/reelrank/internal/adapters/mq/worker"
	"github.com/okian/reelrank/internal/adapters/repository"
	"github.com/okian/reelrank/internal/domain/dedupe"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/pkg/logger"
	"github.com/okian/reelrank/pkg/metrics"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted = errors.New("service not started")
	ErrBusy       = errors.New("too many pending changes")
)

// Service implements the API dependencies for the ranking server.
type Service struct {
	mu sync.RWMutex

	store   repository.Writer
	ownDB   bool
	deduper dedupe.Deduper
	pool    *worker.Pool

	driver     string
	dsn        string
	queueSize  int
	dedupeSize int
	workerIdle time.Duration

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses w instead of opening a database.
func WithStore(w repository.Writer) Option {
	return func(s *Service) {
		if w != nil {
			s.store = w
		}
	}
}

// WithDatabase sets the driver and DSN opened by Start.
func WithDatabase(driver, dsn string) Option {
	return func(s *Service) {
		if driver != "" {
			s.driver = driver
		}
		if dsn != "" {
			s.dsn = dsn
		}
	}
}

// WithQueueSize sets how many mutations may wait per partition.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerIdle sets how long a partition worker may idle before it stops.
func WithWorkerIdle(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.workerIdle = d
		}
	}
}

// WithDedupeSize sets the size of the request id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		driver:     repository.DriverSQLite,
		dsn:        ":memory:",
		queueSize:  64,
		dedupeSize: 50_000,
		workerIdle: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and starts the partition workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting ranking service...")

	if s.store == nil {
		db, err := repository.OpenSQL(ctx, s.driver, s.dsn, repository.WithSQLLogger(s.logger.Named("sql")))
		if err != nil {
			return fmt.Errorf("open ranking store: %w", err)
		}
		s.store = db
		s.ownDB = true
		s.logger.Info(ctx, "using sql store", logger.String("driver", s.driver))
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.pool = worker.NewPool(
		worker.WithQueueCapacity(s.queueSize),
		worker.WithIdleTimeout(s.workerIdle),
		worker.WithPoolLogger(s.logger),
	)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains pending mutations and closes the store.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping ranking service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker shutdown incomplete", logger.Error(err))
	}
	if s.ownDB {
		if closer, ok := s.store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		s.store = nil
		s.ownDB = false
	}

	s.started = false
	s.logger.Info(ctx, "ranking service stopped")
}

func (s *Service) running() (repository.Writer, *worker.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.pool, nil
}

// Rankings returns a partition ordered by position.
func (s *Service) Rankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error) {
	store, _, err := s.running()
	if err != nil {
		return nil, err
	}
	l, err := store.FetchRankings(ctx, userID, ct)
	if err != nil {
		return nil, err
	}
	metrics.UpdateRankedItems(string(ct), len(l))
	return l, nil
}

// Append ranks a new title at the bottom of its partition.
func (s *Service) Append(ctx context.Context, requestID, userID string, item model.RankedItem) (bool, error) {
	return s.mutate(ctx, requestID, metrics.KindAppend, model.Partition{UserID: userID, ContentType: item.ContentType},
		func(ctx context.Context, store repository.Writer) error {
			return store.AppendRanking(ctx, userID, item)
		})
}

// Reorder moves the item at from to index to.
func (s *Service) Reorder(ctx context.Context, requestID, userID string, ct model.ContentType, from, to int) (bool, error) {
	return s.mutate(ctx, requestID, metrics.KindReorder, model.Partition{UserID: userID, ContentType: ct},
		func(ctx context.Context, store repository.Writer) error {
			return store.PersistReorder(ctx, userID, ct, from, to)
		})
}

// Delete removes a ranked title and its rating.
func (s *Service) Delete(ctx context.Context, requestID, userID string, ct model.ContentType, itemID string) (bool, error) {
	return s.mutate(ctx, requestID, metrics.KindDelete, model.Partition{UserID: userID, ContentType: ct},
		func(ctx context.Context, store repository.Writer) error {
			return store.PersistDelete(ctx, userID, ct, itemID)
		})
}

// Stars returns the rating of a ranked title.
func (s *Service) Stars(ctx context.Context, userID string, ct model.ContentType, itemID string) (float64, error) {
	store, _, err := s.running()
	if err != nil {
		return 0, err
	}
	return store.Stars(ctx, userID, ct, itemID)
}

// mutate runs fn on the partition's worker. It reports true without running
// fn when requestID was already applied. A failed fn forgets requestID so
// the client may retry.
func (s *Service) mutate(
	ctx context.Context,
	requestID, kind string,
	p model.Partition,
	fn func(context.Context, repository.Writer) error,
) (bool, error) {
	store, pool, err := s.running()
	if err != nil {
		return false, err
	}
	if requestID != "" && s.deduper.SeenAndRecord(ctx, requestID) {
		metrics.RecordDedupeHit()
		s.logger.Debug(ctx, "duplicate request, skipping",
			logger.String("requestID", requestID),
			logger.String("partition", p.String()))
		return true, nil
	}

	done := make(chan error, 1)
	job := queue.Job{
		ID:        requestID,
		Partition: p.String(),
		Run: func(context.Context) {
			done <- fn(ctx, store)
		},
	}
	if err := pool.Submit(ctx, p.String(), job); err != nil {
		err = fmt.Errorf("%w: %w", ErrBusy, err)
		s.fail(ctx, requestID, kind, err)
		return false, err
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.fail(ctx, requestID, kind, err)
		return false, err
	}
	metrics.RecordMutation(kind, metrics.OutcomeOK)
	return false, nil
}

func (s *Service) fail(ctx context.Context, requestID, kind string, err error) {
	if requestID != "" {
		s.deduper.Unrecord(ctx, requestID)
	}
	outcome := metrics.OutcomeFailed
	if errors.Is(err, repository.ErrInvalidRequest) || errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrDuplicate) {
		outcome = metrics.OutcomeRejected
	}
	metrics.RecordMutation(kind, outcome)
	s.logger.Debug(ctx, "mutation failed",
		logger.String("kind", kind),
		logger.String("requestID", requestID),
		logger.Error(err))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":    s.started,
		"queueSize":  s.queueSize,
		"dedupeSize": s.dedupeSize,
		"driver":     s.driver,
	}
	if s.started {
		stats["workers"] = s.pool.Workers()
		stats["seenRequests"] = s.deduper.Size()
		if n, err := s.store.Count(ctx); err == nil {
			stats["totalRankings"] = n
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		stats["goroutines"] = runtime.NumGoroutine()
		metrics.UpdateSystemMemoryUsage(m.Alloc)
		metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	}
	return stats
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	store, _, err := s.running()
	if err != nil {
		return err
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
