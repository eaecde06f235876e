// Package worker runs queued persistence jobs, one serial worker per
// partition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/reelrank/internal/adapters/mq/queue"
	"github.com/okian/reelrank/pkg/logger"
	"github.com/okian/reelrank/pkg/metrics"
)

const (
	defaultQueueCapacity = 16
	defaultIdleTimeout   = time.Minute
	minReapInterval      = 10 * time.Millisecond
	poolShutdownTimeout  = 30 * time.Second
)

// ErrStopped is returned when submitting to a pool that is shutting down.
var ErrStopped = errors.New("worker pool stopped")

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker drains a queue.
type Worker interface {
	// Run processes jobs until the queue is closed or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker runs the jobs of one queue strictly one at a time.
type InMemoryWorker struct {
	queue  Queue
	name   string
	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:  q,
		name:   "worker",
		done:   make(chan struct{}),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	for j := range w.queue.Dequeue(ctx) {
		w.process(ctx, j)
	}
}

// Shutdown waits for the worker to finish its queue.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job. A panicking job is logged and does not stop the
// worker.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "job panicked",
				logger.String("job", j.ID),
				logger.String("partition", j.Partition),
				logger.Any("panic", r))
		}
	}()
	if j.Run != nil {
		j.Run(ctx)
	}
}

type lane struct {
	queue     *queue.InMemoryQueue
	worker    *InMemoryWorker
	pending   int
	idleSince time.Time
}

// Pool creates a worker per key on first use. Jobs sharing a key run in
// submission order; different keys run concurrently. A worker whose queue
// stayed empty for the idle timeout is stopped and recreated on next use.
type Pool struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	capacity int
	idle     time.Duration
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logger.Logger
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		lanes:    make(map[string]*lane),
		capacity: defaultQueueCapacity,
		idle:     defaultIdleTimeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("worker-pool")
	if p.idle > 0 {
		go p.reap(max(p.idle/2, minReapInterval))
	}
	return p
}

// Submit queues j behind earlier jobs with the same key.
func (p *Pool) Submit(ctx context.Context, key string, j queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStopped
	}
	l, ok := p.lanes[key]
	if !ok {
		q := queue.NewInMemoryQueue(queue.WithCapacity(p.capacity), queue.WithName(key))
		l = &lane{
			queue:  q,
			worker: NewInMemoryWorker(q, WithName("worker-"+key), WithLogger(p.logger)),
		}
		p.lanes[key] = l
		go l.worker.Run(p.ctx)
		metrics.UpdateWorkerCount(len(p.lanes))
		p.logger.Debug(ctx, "started partition worker", logger.String("partition", key))
	}
	if j.Partition == "" {
		j.Partition = key
	}
	run := j.Run
	j.Run = func(ctx context.Context) {
		defer p.finish(l)
		if run != nil {
			run(ctx)
		}
	}
	l.pending++
	if err := l.queue.Enqueue(ctx, j); err != nil {
		l.pending--
		l.idleSince = time.Now()
		return fmt.Errorf("submit %s: %w", key, err)
	}
	return nil
}

// finish marks one job of l as done.
func (p *Pool) finish(l *lane) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.pending--
	if l.pending == 0 {
		l.idleSince = time.Now()
	}
}

// reap stops workers that have been idle for longer than p.idle.
func (p *Pool) reap(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			p.reapIdle(now)
		}
	}
}

func (p *Pool) reapIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	reaped := 0
	for key, l := range p.lanes {
		if l.pending > 0 || now.Sub(l.idleSince) < p.idle {
			continue
		}
		// Nothing is queued, so the worker drains an empty queue and exits.
		_ = l.queue.Close()
		delete(p.lanes, key)
		reaped++
	}
	if reaped > 0 {
		metrics.UpdateWorkerCount(len(p.lanes))
		p.logger.Debug(p.ctx, "stopped idle partition workers",
			logger.Int("stopped", reaped),
			logger.Int("remaining", len(p.lanes)))
	}
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

// Shutdown stops accepting jobs and waits for queued jobs to finish. When
// ctx ends first, running jobs see their context canceled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	lanes := make([]*lane, 0, len(p.lanes))
	for _, l := range p.lanes {
		_ = l.queue.Close()
		lanes = append(lanes, l)
	}
	p.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	defer p.cancel()

	var errs []error
	for _, l := range lanes {
		if err := l.worker.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
