// Package repository persists personal rankings.
//
// Repository is the contract the ranking store talks to. Three
// implementations ship with it: SQLStore (sqlite or postgres), HTTPClient
// (the ranking server) and MemoryStore (tests and offline runs). Cached
// decorates any of them with a read-through cache.
package repository

import (
	"context"
	"time"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/pkg/metrics"
)

// Operation names, also used as metric labels.
const (
	OpFetch   = "fetch"
	OpReorder = "reorder"
	OpDelete  = "delete"
	OpAppend  = "append"
	OpCount   = "count"
	OpStars   = "stars"
)

// Repository is the remote source of truth for a user's rankings.
type Repository interface {
	// FetchRankings returns the partition ordered by ascending position.
	FetchRankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error)

	// PersistReorder moves the item at from to index to using splice
	// semantics and recomputes its score.
	PersistReorder(ctx context.Context, userID string, ct model.ContentType, from, to int) error

	// PersistDelete removes the ranking and its rating in one step.
	// Returns ErrNotFound if the item is not ranked.
	PersistDelete(ctx context.Context, userID string, ct model.ContentType, itemID string) error
}

// Writer is implemented by repositories that own the data.
type Writer interface {
	Repository

	// AppendRanking ranks a new title at the bottom of the partition.
	// Returns ErrDuplicate if the title is already ranked.
	AppendRanking(ctx context.Context, userID string, item model.RankedItem) error

	// Stars returns the star rating attached to a ranked title.
	Stars(ctx context.Context, userID string, ct model.ContentType, itemID string) (float64, error)

	// Count returns the number of rankings across all users.
	Count(ctx context.Context) (int, error)
}

// observe records latency and failures of one repository call.
func observe(op string, start time.Time, err error) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordRepositoryError(op)
	}
}
