// Package scoring computes display scores for items placed between neighbours.
//
// Only the moved item's score is ever recomputed; neighbours keep theirs.
package scoring

import "math"

// Default policy constants.
const (
	MinScore    = 1.0
	MaxScore    = 10.0
	DefaultStep = 0.2

	minStars = 0.5
	maxStars = 5.0
)

// Neighbor is the score of an adjacent item, or absent at a list edge.
type Neighbor struct {
	Score   float64
	Present bool
}

// At returns a present neighbour with the given score.
func At(score float64) Neighbor { return Neighbor{Score: score, Present: true} }

// Absent marks a missing neighbour.
var Absent = Neighbor{}

// Option applies a configuration option to a Policy.
type Option func(*Policy)

// WithStep sets the distance kept from the only neighbour at a list edge.
func WithStep(step float64) Option {
	return func(p *Policy) {
		if step > 0 {
			p.step = step
		}
	}
}

// WithBounds sets the closed score range.
func WithBounds(minScore, maxScore float64) Option {
	return func(p *Policy) {
		if minScore < maxScore {
			p.min = minScore
			p.max = maxScore
		}
	}
}

// Policy computes a score from the neighbours at the target position.
type Policy struct {
	step float64
	min  float64
	max  float64
}

// NewPolicy creates a policy with the default 1.0-10.0 range and 0.2 step.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{step: DefaultStep, min: MinScore, max: MaxScore}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultPolicy = NewPolicy() //nolint:gochecknoglobals // stateless default

// Compute returns the new score for an item placed between above and below.
//
//	both present: midpoint
//	only above:   max(above-step, min)
//	only below:   min(below+step, max)
//	neither:      current
//
// The result is rounded to one decimal and kept inside [min, max].
func (p *Policy) Compute(above, below Neighbor, current float64) float64 {
	var score float64
	switch {
	case above.Present && below.Present:
		score = (above.Score + below.Score) / 2
	case above.Present:
		score = math.Max(above.Score-p.step, p.min)
	case below.Present:
		score = math.Min(below.Score+p.step, p.max)
	default:
		return current
	}
	return p.Clamp(Round1(score))
}

// Clamp keeps score inside the policy bounds.
func (p *Policy) Clamp(score float64) float64 {
	return math.Max(p.min, math.Min(p.max, score))
}

// ComputeScore applies the default policy.
func ComputeScore(above, below Neighbor, current float64) float64 {
	return defaultPolicy.Compute(above, below, current)
}

// Normalize rounds a user supplied score and clamps it into the default range.
func Normalize(score float64) float64 {
	if math.IsNaN(score) {
		return MinScore
	}
	return defaultPolicy.Clamp(Round1(score))
}

// Round1 rounds x to the nearest 0.1.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// StarsForScore maps a display score onto a half-star rating in [0.5, 5.0].
func StarsForScore(score float64) float64 {
	stars := math.Round(score) / 2
	return math.Max(minStars, math.Min(maxStars, stars))
}
