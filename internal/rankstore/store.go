// Package rankstore keeps a user's ranked lists in memory and mediates every
// change to them.
//
// Gestures are applied to the local list at once and persisted in the
// background, one at a time per partition. A failed persist restores the
// list as it was before the gesture. The remote repository stays the source
// of truth: lists are reloaded after reorders, after failures and whenever
// local state has gone stale.
package rankstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/reelrank/internal/adapters/mq/queue"
	"github.com/okian/reelrank/internal/adapters/mq/worker"
	"github.com/okian/reelrank/internal/adapters/repository"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/optimistic"
	"github.com/okian/reelrank/internal/domain/ranking"
	"github.com/okian/reelrank/pkg/logger"
	"github.com/okian/reelrank/pkg/metrics"
)

// PartitionView is what a screen renders for one content type.
type PartitionView struct {
	Items    model.RankedList
	Loading  bool // first load still running
	Loaded   bool
	EditMode bool
	Pending  bool // a mutation is being persisted
}

type partition struct {
	items    model.RankedList
	loaded   bool
	loading  bool
	stale    bool
	editMode bool
	pending  bool
	version  uint64 // bumped by every local change
}

// Store is the ranking state of one user.
type Store struct {
	repo   repository.Repository
	userID string
	engine *ranking.Engine
	pool   *worker.Pool
	logger logger.Logger

	reloadAfterDelete bool
	errBuffer         int
	loadTimeout       time.Duration
	queueCapacity     int

	mu     sync.Mutex
	parts  map[model.ContentType]*partition
	active model.ContentType
	closed bool
	busy   int
	idle   chan struct{}

	errMu      sync.Mutex
	errs       chan error
	errsClosed bool
}

// New creates a Store for userID backed by repo.
func New(repo repository.Repository, userID string, opts ...Option) *Store {
	s := &Store{
		repo:          repo,
		userID:        userID,
		engine:        ranking.NewEngine(nil),
		logger:        logger.Nop(),
		errBuffer:     defaultErrorBuffer,
		loadTimeout:   defaultLoadTimeout,
		queueCapacity: defaultQueueCapacity,
		parts:         make(map[model.ContentType]*partition),
		active:        model.Movie,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("rankstore")
	s.errs = make(chan error, s.errBuffer)
	s.pool = worker.NewPool(worker.WithQueueCapacity(s.queueCapacity), worker.WithPoolLogger(s.logger))
	return s
}

// Errors delivers validation failures, dropped gestures and rolled back
// mutations. Sends never block: when the channel is full the error is
// logged and dropped. The channel is closed by Close.
func (s *Store) Errors() <-chan error {
	return s.errs
}

func (s *Store) emit(ctx context.Context, err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errsClosed {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.logger.Warn(ctx, "error channel full, dropping error", logger.Error(err))
	}
}

// part returns the state of ct. Callers hold s.mu.
func (s *Store) part(ct model.ContentType) *partition {
	p, ok := s.parts[ct]
	if !ok {
		p = &partition{}
		s.parts[ct] = p
	}
	return p
}

func (s *Store) key(ct model.ContentType) string {
	return model.Partition{UserID: s.userID, ContentType: ct}.String()
}

// begin and end track background work for Wait. Callers hold s.mu.
func (s *Store) begin() {
	if s.busy == 0 {
		s.idle = make(chan struct{})
	}
	s.busy++
}

func (s *Store) end() {
	s.busy--
	if s.busy == 0 {
		close(s.idle)
	}
}

// Wait blocks until no load or mutation is running.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.busy == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait: %w", ctx.Err())
	}
}

// View returns a snapshot of ct.
func (s *Store) View(ct model.ContentType) PartitionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(ct)
	return PartitionView{
		Items:    p.items.Clone(),
		Loading:  p.loading,
		Loaded:   p.loaded,
		EditMode: p.editMode,
		Pending:  p.pending,
	}
}

// Active returns the selected content type.
func (s *Store) Active() model.ContentType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetEditMode toggles edit mode. An empty list never enters it.
func (s *Store) SetEditMode(ct model.ContentType, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(ct)
	p.editMode = on && len(p.items) > 0
}

// GetList returns ct, loading it first when it was never loaded or has
// gone stale. A failed reload of a loaded list returns the last known list.
func (s *Store) GetList(ctx context.Context, ct model.ContentType) (model.RankedList, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidContentType, ct)
	}
	s.mu.Lock()
	p := s.part(ct)
	if p.pending || (p.loaded && !p.stale) {
		l := p.items.Clone()
		s.mu.Unlock()
		return l, nil
	}
	s.mu.Unlock()

	if err := s.reload(ctx, ct, false); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p.loaded {
			return p.items.Clone(), nil
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.items.Clone(), nil
}

// Select makes ct the active partition. A partition that was never loaded
// starts loading in the background and reports Loading until it arrives.
func (s *Store) Select(ctx context.Context, ct model.ContentType) {
	if !ct.Valid() {
		s.emit(ctx, fmt.Errorf("%w: %q", model.ErrInvalidContentType, ct))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ct
	p := s.part(ct)
	if p.loaded || p.loading || s.closed {
		return
	}
	p.loading = true
	s.background(ctx, ct)
}

// Blur marks every partition stale. Mutations in flight keep running.
func (s *Store) Blur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.loaded {
			p.stale = true
		}
	}
}

// Focus reloads the active partition in the background if it went stale.
// A partition with a mutation in flight reloads once the mutation settles.
func (s *Store) Focus(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(s.active)
	if !p.stale || p.pending || s.closed {
		return
	}
	s.background(ctx, s.active)
}

// background starts a tracked reload. Callers hold s.mu.
func (s *Store) background(ctx context.Context, ct model.ContentType) {
	s.begin()
	go func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		_ = s.reload(lctx, ct, false)
		s.mu.Lock()
		s.part(ct).loading = false
		s.end()
		s.mu.Unlock()
	}()
}

// reload fetches ct and replaces the local list unless a local change
// happened meanwhile. owner is true when called from the partition's own
// mutation job, which may overwrite its pending state.
func (s *Store) reload(ctx context.Context, ct model.ContentType, owner bool) error {
	s.mu.Lock()
	version := s.part(ct).version
	s.mu.Unlock()

	list, err := s.repo.FetchRankings(ctx, s.userID, ct)
	if err != nil {
		metrics.RecordReload(metrics.OutcomeFailed)
		s.logger.Warn(ctx, "reload failed",
			logger.String("partition", s.key(ct)),
			logger.Error(err))
		return fmt.Errorf("reload %s: %w", s.key(ct), err)
	}
	metrics.RecordReload(metrics.OutcomeOK)

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(ct)
	if p.version != version || (p.pending && !owner) {
		s.logger.Debug(ctx, "discarding reload overtaken by a local change",
			logger.String("partition", s.key(ct)))
		return nil
	}
	p.items = list
	p.loaded = true
	p.stale = false
	if len(list) == 0 {
		p.editMode = false
	}
	metrics.UpdateRankedItems(string(ct), len(list))
	return nil
}

// RequestReorder moves the item at from to index to. The local list
// changes before the call returns; the result of persisting it arrives on
// Errors only when it fails.
func (s *Store) RequestReorder(ctx context.Context, ct model.ContentType, from, to int) {
	s.mutate(ctx, ct, metrics.KindReorder, func(items model.RankedList) (model.RankedList, bool, error) {
		next, _, err := s.engine.Reorder(items, from, to)
		return next, from != to, err
	}, optimistic.Mutation{
		Op:      "rankstore.reorder",
		Message: reorderFailedMessage,
		Remote: func(ctx context.Context) error {
			return s.repo.PersistReorder(ctx, s.userID, ct, from, to)
		},
	})
}

// RequestDelete removes itemID. The local list changes before the call
// returns; the result of persisting it arrives on Errors only when it fails.
func (s *Store) RequestDelete(ctx context.Context, ct model.ContentType, itemID string) {
	s.mutate(ctx, ct, metrics.KindDelete, func(items model.RankedList) (model.RankedList, bool, error) {
		next, err := s.engine.DeleteItem(items, itemID)
		return next, true, err
	}, optimistic.Mutation{
		Op:      "rankstore.delete",
		Message: deleteFailedMessage,
		Remote: func(ctx context.Context) error {
			return s.repo.PersistDelete(ctx, s.userID, ct, itemID)
		},
	})
}

// mutate applies change locally and queues its persistence. change reports
// whether the result needs persisting at all.
func (s *Store) mutate(
	ctx context.Context,
	ct model.ContentType,
	kind string,
	change func(model.RankedList) (model.RankedList, bool, error),
	m optimistic.Mutation,
) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.emit(ctx, ErrClosed)
		return
	}
	p := s.part(ct)
	if p.pending {
		s.mu.Unlock()
		metrics.RecordDroppedGesture("in_flight")
		s.logger.Debug(ctx, "dropping gesture while a mutation is in flight",
			logger.String("partition", s.key(ct)),
			logger.String("kind", kind))
		s.emit(ctx, fmt.Errorf("%s %s: %w", m.Op, s.key(ct), ErrMutationInFlight))
		return
	}
	next, persist, err := change(p.items)
	if err != nil {
		s.mu.Unlock()
		metrics.RecordMutation(kind, metrics.OutcomeRejected)
		s.emit(ctx, err)
		return
	}
	if !persist {
		s.mu.Unlock()
		return
	}

	snapshot, snapshotEdit := p.items, p.editMode
	m.Apply = func() {
		p.items = next
		p.version++
		if len(next) == 0 {
			p.editMode = false
		}
	}
	m.Inverse = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		p.items = snapshot
		p.editMode = snapshotEdit
		p.version++
	}
	optimistic.Prepare(m)
	p.pending = true
	s.begin()
	s.mu.Unlock()

	job := queue.Job{
		ID:        m.Op,
		Partition: s.key(ct),
		Run: func(jctx context.Context) {
			s.persist(jctx, ct, kind, m)
		},
	}
	if err := s.pool.Submit(ctx, s.key(ct), job); err != nil {
		m.Inverse()
		s.settle(ctx, ct)
		metrics.RecordMutation(kind, metrics.OutcomeFailed)
		s.emit(ctx, &optimistic.Error{Op: m.Op, Message: m.Message, Err: err})
	}
}

// persist runs on the partition's worker.
func (s *Store) persist(ctx context.Context, ct model.ContentType, kind string, m optimistic.Mutation) {
	defer s.settle(ctx, ct)

	start := time.Now()
	err := optimistic.Commit(ctx, m)
	metrics.RecordPersistLatency(kind, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		metrics.RecordMutation(kind, metrics.OutcomeRolledBack)
		metrics.RecordRollback(kind)
		s.logger.Warn(ctx, "mutation rolled back",
			logger.String("partition", s.key(ct)),
			logger.String("kind", kind),
			logger.Error(err))
		s.emit(ctx, err)
		_ = s.reload(ctx, ct, true)
		return
	}
	metrics.RecordMutation(kind, metrics.OutcomeOK)

	s.mu.Lock()
	stale := s.part(ct).stale
	s.mu.Unlock()
	if kind == metrics.KindReorder || s.reloadAfterDelete || stale {
		_ = s.reload(ctx, ct, true)
	}
}

// settle clears the in-flight marker of ct.
func (s *Store) settle(_ context.Context, ct model.ContentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(ct)
	p.pending = false
	if len(p.items) == 0 {
		p.editMode = false
	}
	s.end()
}

// Close waits for queued mutations to persist and stops the workers.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.pool.Shutdown(ctx)
	if werr := s.Wait(ctx); werr != nil && err == nil {
		err = werr
	}

	s.errMu.Lock()
	s.errsClosed = true
	close(s.errs)
	s.errMu.Unlock()
	return err
}
