// Package simulate drives a RankingStore through random gestures against a
// ranking backend and checks the list invariants after every step.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/reelrank/internal/adapters/repository"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/optimistic"
	"github.com/okian/reelrank/internal/domain/ranking"
	"github.com/okian/reelrank/internal/domain/scoring"
	"github.com/okian/reelrank/internal/handoff"
	"github.com/okian/reelrank/internal/rankstore"
	"github.com/okian/reelrank/pkg/logger"
)

// ErrInvariant is returned when a run observed at least one violation.
var ErrInvariant = errors.New("ranking invariant violated")

// Backend is the remote side driven by a run.
type Backend interface {
	repository.Repository
	AppendRanking(ctx context.Context, userID string, item model.RankedItem) error
}

type starsReader interface {
	Stars(ctx context.Context, userID string, ct model.ContentType, itemID string) (float64, error)
}

// selection is what the title picker hands to the ranking step.
type selection struct {
	item model.RankedItem
}

type gesture struct {
	kind     string
	from, to int
	itemID   string
}

func (g gesture) String() string {
	if g.kind == "delete" {
		return "delete " + g.itemID
	}
	return fmt.Sprintf("reorder %d->%d", g.from, g.to)
}

type runner struct {
	cfg     Config
	backend Backend
	store   *rankstore.Store
	engine  *ranking.Engine
	rng     *rand.Rand
	log     logger.Logger
	report  *Report
}

// Run seeds cfg.Items titles into backend, performs cfg.Gestures gestures
// through a RankingStore and verifies the partition after each step. It
// returns ErrInvariant alongside the report when any check failed.
func Run(ctx context.Context, cfg Config, backend Backend, log logger.Logger) (*Report, error) {
	cfg.withDefaults()
	if !cfg.ContentType.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidContentType, cfg.ContentType)
	}
	if log == nil {
		log = logger.Get()
	}
	start := time.Now()

	var repo repository.Repository = backend
	if cfg.CacheTTL > 0 {
		repo = repository.NewCached(backend, cfg.CacheTTL)
	}
	r := &runner{
		cfg:     cfg,
		backend: backend,
		engine:  ranking.NewEngine(nil),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:     log,
		report:  &Report{},
	}
	r.store = rankstore.New(repo, cfg.UserID,
		rankstore.WithLogger(log.Named("rankstore")),
		rankstore.WithReloadAfterDelete(cfg.ReloadAfterDelete),
		rankstore.WithErrorBuffer(64),
	)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StepTimeout)
		defer cancel()
		_ = r.store.Close(cctx)
	}()

	log.Info(ctx, "starting ranking simulation",
		logger.String("user", cfg.UserID),
		logger.String("contentType", string(cfg.ContentType)),
		logger.Int("items", cfg.Items),
		logger.Int("gestures", cfg.Gestures))

	if err := r.seed(ctx); err != nil {
		return r.report, fmt.Errorf("seed: %w", err)
	}
	if err := r.load(ctx); err != nil {
		return r.report, fmt.Errorf("load: %w", err)
	}

	for step := 1; step <= cfg.Gestures; step++ {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		burst := cfg.BurstEvery > 0 && step%cfg.BurstEvery == 0
		if err := r.step(ctx, step, burst); err != nil {
			return r.report, fmt.Errorf("step %d: %w", step, err)
		}
	}

	r.report.Duration = time.Since(start)
	log.Info(ctx, "simulation finished",
		logger.Int("reorders", r.report.Reorders),
		logger.Int("deletes", r.report.Deletes),
		logger.Int("dropped", r.report.Dropped),
		logger.Int("rolledBack", r.report.RolledBack),
		logger.Int("violations", len(r.report.Violations)),
		logger.Duration("took", r.report.Duration))

	if len(r.report.Violations) > 0 {
		return r.report, ErrInvariant
	}
	return r.report, nil
}

// seed ranks cfg.Items titles. A picker offers each title and the ranking
// step claims it by correlation id before appending it.
func (r *runner) seed(ctx context.Context) error {
	picked := handoff.New[selection]()
	ids := make([]string, 0, r.cfg.Items)
	for i := range r.cfg.Items {
		score := scoring.Normalize(10 - 9*float64(i)/float64(max(r.cfg.Items-1, 1)))
		ids = append(ids, picked.Offer(selection{item: model.RankedItem{
			ItemID:       fmt.Sprintf("sim-%d-%03d", r.cfg.Seed, i),
			DisplayScore: score,
			ContentType:  r.cfg.ContentType,
			Metadata: model.Metadata{
				Title: fmt.Sprintf("Title %03d", i),
				Year:  1970 + r.rng.IntN(55),
			},
		}}))
	}
	for _, id := range ids {
		sel, err := picked.Claim(id)
		if err != nil {
			return err
		}
		err = r.backend.AppendRanking(ctx, r.cfg.UserID, sel.item)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			r.log.Debug(ctx, "title already ranked", logger.String("itemID", sel.item.ItemID))
		case err != nil:
			return err
		default:
			r.report.Appended++
		}
	}
	return nil
}

func (r *runner) load(ctx context.Context) error {
	r.store.Select(ctx, r.cfg.ContentType)
	if err := r.wait(ctx); err != nil {
		return err
	}
	if v := r.store.View(r.cfg.ContentType); !v.Loaded {
		if err := errors.Join(r.drain()...); err != nil {
			return err
		}
		return errors.New("partition did not load")
	}
	r.drain()
	return nil
}

func (r *runner) wait(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()
	return r.store.Wait(wctx)
}

// drain collects every error published since the last drain.
func (r *runner) drain() []error {
	var out []error
	for {
		select {
		case err, ok := <-r.store.Errors():
			if !ok {
				return out
			}
			out = append(out, err)
		default:
			return out
		}
	}
}

// next picks a gesture valid for list.
func (r *runner) next(list model.RankedList) (gesture, bool) {
	n := len(list)
	if n > 2 && r.rng.Float64() < r.cfg.DeleteRatio {
		return gesture{kind: "delete", itemID: list[r.rng.IntN(n)].ItemID}, true
	}
	if n < 2 {
		return gesture{}, false
	}
	from := r.rng.IntN(n)
	to := r.rng.IntN(n - 1)
	if to >= from {
		to++
	}
	return gesture{kind: "reorder", from: from, to: to}, true
}

func (r *runner) issue(ctx context.Context, g gesture) {
	if g.kind == "delete" {
		r.report.Deletes++
		r.store.RequestDelete(ctx, r.cfg.ContentType, g.itemID)
		return
	}
	r.report.Reorders++
	r.store.RequestReorder(ctx, r.cfg.ContentType, g.from, g.to)
}

func (r *runner) apply(list model.RankedList, g gesture) (model.RankedList, error) {
	if g.kind == "delete" {
		return r.engine.DeleteItem(list, g.itemID)
	}
	next, _, err := r.engine.Reorder(list, g.from, g.to)
	return next, err
}

func (r *runner) step(ctx context.Context, step int, burst bool) error {
	ct := r.cfg.ContentType
	before := r.store.View(ct).Items
	first, ok := r.next(before)
	if !ok {
		return nil
	}
	gestures := []gesture{first}
	r.issue(ctx, first)
	if burst {
		if second, ok := r.next(r.store.View(ct).Items); ok {
			gestures = append(gestures, second)
			r.issue(ctx, second)
		}
	}
	if err := r.wait(ctx); err != nil {
		return err
	}

	dropped, rolledBack := 0, 0
	for _, err := range r.drain() {
		var perr *optimistic.Error
		switch {
		case errors.Is(err, rankstore.ErrMutationInFlight):
			dropped++
		case errors.As(err, &perr):
			rolledBack++
		default:
			r.violate(step, "unexpected error: %v", err)
		}
	}
	r.report.Dropped += dropped
	r.report.RolledBack += rolledBack
	applied := gestures[:len(gestures)-dropped]

	after := r.store.View(ct).Items
	for _, v := range checkList(after) {
		r.violate(step, "%s", v)
	}
	server, err := r.backend.FetchRankings(ctx, r.cfg.UserID, ct)
	if err != nil {
		return fmt.Errorf("fetch server list: %w", err)
	}
	if !after.Equal(server) {
		r.violate(step, "local list diverged from server after %v", gestures)
	}
	if rolledBack > 0 {
		return nil
	}

	if len(applied) == 1 {
		for _, v := range checkTransition(before, after, applied[0]) {
			r.violate(step, "%s: %s", applied[0], v)
		}
		r.checkStars(ctx, step, after, applied[0])
		return nil
	}
	want := before
	for _, g := range applied {
		if want, err = r.apply(want, g); err != nil {
			r.violate(step, "%s rejected locally: %v", g, err)
			return nil
		}
	}
	if !after.Equal(want) {
		r.violate(step, "list after %v does not match the expected order", applied)
	}
	return nil
}

// checkStars verifies the promoted rating of a moved item when the backend
// exposes ratings.
func (r *runner) checkStars(ctx context.Context, step int, after model.RankedList, g gesture) {
	sr, ok := r.backend.(starsReader)
	if !ok || g.kind != "reorder" {
		return
	}
	moved := after[g.to]
	stars, err := sr.Stars(ctx, r.cfg.UserID, r.cfg.ContentType, moved.ItemID)
	if err != nil {
		r.violate(step, "read stars of %s: %v", moved.ItemID, err)
		return
	}
	if want := scoring.StarsForScore(moved.DisplayScore); stars != want {
		r.violate(step, "%s: stars %.1f, want %.1f", g, stars, want)
	}
}

func (r *runner) violate(step int, format string, args ...any) {
	msg := fmt.Sprintf("step %d: ", step) + fmt.Sprintf(format, args...)
	r.report.Violations = append(r.report.Violations, msg)
	r.log.Warn(context.Background(), "invariant violated", logger.String("detail", msg))
}
