package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/ranking"
	"github.com/okian/reelrank/internal/domain/scoring"
)

// MemoryStore keeps rankings in process. Failures and stalls can be
// injected per operation.
type MemoryStore struct {
	mu       sync.Mutex
	lists    map[model.Partition]model.RankedList
	stars    map[model.Partition]map[string]float64
	failures map[string][]error
	calls    map[string]int
	gate     chan struct{}
	engine   *ranking.Engine
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryEngine replaces the engine used to apply reorders.
func WithMemoryEngine(e *ranking.Engine) MemoryOption {
	return func(s *MemoryStore) {
		if e != nil {
			s.engine = e
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		lists:    make(map[model.Partition]model.RankedList),
		stars:    make(map[model.Partition]map[string]float64),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		engine:   ranking.NewEngine(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed replaces a partition. Positions are rewritten to 1..N.
func (s *MemoryStore) Seed(userID string, ct model.ContentType, list model.RankedList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Partition{UserID: userID, ContentType: ct}
	l := list.Clone()
	stars := make(map[string]float64, len(l))
	for i := range l {
		l[i].ContentType = ct
		stars[l[i].ItemID] = scoring.StarsForScore(l[i].DisplayScore)
	}
	l.Renumber()
	s.lists[p] = l
	s.stars[p] = stars
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *MemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Pause stalls every persist call until the returned release is called.
func (s *MemoryStore) Pause() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// enter counts the call, waits on a pause and pops an injected failure.
func (s *MemoryStore) enter(ctx context.Context, op string, stall bool) error {
	s.mu.Lock()
	s.calls[op]++
	gate := s.gate
	s.mu.Unlock()

	if stall && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.failures[op]; len(q) > 0 {
		err := q[0]
		s.failures[op] = q[1:]
		return err
	}
	return nil
}

// FetchRankings implements Repository.
func (s *MemoryStore) FetchRankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error) {
	if err := s.enter(ctx, OpFetch, false); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[model.Partition{UserID: userID, ContentType: ct}].Clone()
	if l == nil {
		l = model.RankedList{}
	}
	return l, nil
}

// PersistReorder implements Repository and promotes the moved item's stars.
func (s *MemoryStore) PersistReorder(ctx context.Context, userID string, ct model.ContentType, from, to int) error {
	if err := s.enter(ctx, OpReorder, true); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Partition{UserID: userID, ContentType: ct}
	next, score, err := s.engine.Reorder(s.lists[p], from, to)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	s.lists[p] = next
	if s.stars[p] == nil {
		s.stars[p] = make(map[string]float64)
	}
	s.stars[p][next[to].ItemID] = scoring.StarsForScore(score)
	return nil
}

// PersistDelete implements Repository.
func (s *MemoryStore) PersistDelete(ctx context.Context, userID string, ct model.ContentType, itemID string) error {
	if err := s.enter(ctx, OpDelete, true); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Partition{UserID: userID, ContentType: ct}
	next, err := s.engine.DeleteItem(s.lists[p], itemID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	s.lists[p] = next
	delete(s.stars[p], itemID)
	return nil
}

// AppendRanking implements Writer.
func (s *MemoryStore) AppendRanking(ctx context.Context, userID string, item model.RankedItem) error {
	if err := s.enter(ctx, OpAppend, false); err != nil {
		return err
	}
	if !item.ContentType.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, model.ErrInvalidContentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Partition{UserID: userID, ContentType: item.ContentType}
	l := s.lists[p]
	if l.IndexOf(item.ItemID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, item.ItemID)
	}
	item.DisplayScore = scoring.Normalize(item.DisplayScore)
	item.Position = len(l) + 1
	s.lists[p] = append(l.Clone(), item)
	if s.stars[p] == nil {
		s.stars[p] = make(map[string]float64)
	}
	s.stars[p][item.ItemID] = scoring.StarsForScore(item.DisplayScore)
	return nil
}

// Stars implements Writer.
func (s *MemoryStore) Stars(ctx context.Context, userID string, ct model.ContentType, itemID string) (float64, error) {
	if err := s.enter(ctx, OpStars, false); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.stars[model.Partition{UserID: userID, ContentType: ct}][itemID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	return v, nil
}

// Count implements Writer.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := s.enter(ctx, OpCount, false); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lists {
		n += len(l)
	}
	return n, nil
}
