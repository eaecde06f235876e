// Package ranking implements the reorder and delete engines of a ranked list.
//
// Both engines are pure: they never mutate their input and return a fresh
// list with dense positions. Reorder changes the score of the moved item only;
// delete changes no score at all.
package ranking

import (
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/scoring"
)

// Engine applies moves and deletions with a score policy.
type Engine struct {
	policy *scoring.Policy
}

// NewEngine creates an engine. A nil policy selects the default one.
func NewEngine(policy *scoring.Policy) *Engine {
	if policy == nil {
		policy = scoring.NewPolicy()
	}
	return &Engine{policy: policy}
}

var defaultEngine = NewEngine(nil) //nolint:gochecknoglobals // stateless default

// Reorder moves the item at from to index to and returns the new list and
// the moved item's new score.
//
// Indices follow splice semantics: the item is removed first and to is an
// index into the shortened sequence, which is also its final index.
// from == to returns an unchanged copy.
func (e *Engine) Reorder(list model.RankedList, from, to int) (model.RankedList, float64, error) {
	const op = "ranking.reorder"
	n := len(list)
	if from < 0 || from >= n {
		return nil, 0, invalid(op, ErrIndexOutOfRange, "from=%d len=%d", from, n)
	}
	if to < 0 || to >= n {
		return nil, 0, invalid(op, ErrIndexOutOfRange, "to=%d len=%d", to, n)
	}
	if from == to {
		return list.Clone(), list[from].DisplayScore, nil
	}

	moved := list[from]
	out := make(model.RankedList, 0, n)
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	out = append(out, model.RankedItem{})
	copy(out[to+1:], out[to:n-1])
	out[to] = moved

	above, below := scoring.Absent, scoring.Absent
	if to > 0 {
		above = scoring.At(out[to-1].DisplayScore)
	}
	if to < n-1 {
		below = scoring.At(out[to+1].DisplayScore)
	}
	out[to].DisplayScore = e.policy.Compute(above, below, moved.DisplayScore)
	out.Renumber()
	return out, out[to].DisplayScore, nil
}

// DeleteItem removes itemID and renumbers the survivors. Scores are untouched.
func (e *Engine) DeleteItem(list model.RankedList, itemID string) (model.RankedList, error) {
	const op = "ranking.delete"
	idx := list.IndexOf(itemID)
	if idx < 0 {
		return nil, invalid(op, ErrUnknownItem, "item=%s", itemID)
	}
	out := make(model.RankedList, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	out.Renumber()
	return out, nil
}

// Reorder applies the default engine.
func Reorder(list model.RankedList, from, to int) (model.RankedList, float64, error) {
	return defaultEngine.Reorder(list, from, to)
}

// DeleteItem applies the default engine.
func DeleteItem(list model.RankedList, itemID string) (model.RankedList, error) {
	return defaultEngine.DeleteItem(list, itemID)
}
