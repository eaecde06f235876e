package simulate

import (
	"fmt"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/scoring"
)

// checkList reports violations that hold for any list.
func checkList(l model.RankedList) []string {
	var out []string
	if !l.Dense() {
		out = append(out, "positions are not 1..N")
	}
	seen := make(map[string]struct{}, len(l))
	for _, it := range l {
		if it.DisplayScore < scoring.MinScore || it.DisplayScore > scoring.MaxScore {
			out = append(out, fmt.Sprintf("%s: score %.2f out of bounds", it.ItemID, it.DisplayScore))
		}
		if scoring.Round1(it.DisplayScore) != it.DisplayScore {
			out = append(out, fmt.Sprintf("%s: score %v has more than one decimal", it.ItemID, it.DisplayScore))
		}
		if _, dup := seen[it.ItemID]; dup {
			out = append(out, it.ItemID+": listed twice")
		}
		seen[it.ItemID] = struct{}{}
	}
	return out
}

// checkTransition reports violations of one applied gesture: only the moved
// item may change score, and deletes must not touch any score.
func checkTransition(before, after model.RankedList, g gesture) []string {
	scores := make(map[string]float64, len(before))
	for _, it := range before {
		scores[it.ItemID] = it.DisplayScore
	}

	var out []string
	switch g.kind {
	case "delete":
		if len(after) != len(before)-1 {
			out = append(out, fmt.Sprintf("length %d, want %d", len(after), len(before)-1))
		}
		if after.IndexOf(g.itemID) >= 0 {
			out = append(out, "deleted item still listed")
		}
		for _, it := range after {
			if s, ok := scores[it.ItemID]; !ok || s != it.DisplayScore {
				out = append(out, fmt.Sprintf("%s: score changed by delete", it.ItemID))
			}
		}
		return out
	default:
		if len(after) != len(before) {
			return append(out, fmt.Sprintf("length %d, want %d", len(after), len(before)))
		}
		moved := before[g.from]
		if after[g.to].ItemID != moved.ItemID {
			return append(out, fmt.Sprintf("%s not at index %d", moved.ItemID, g.to))
		}
		for i, it := range after {
			if i == g.to {
				continue
			}
			if scores[it.ItemID] != it.DisplayScore {
				out = append(out, fmt.Sprintf("%s: unmoved score changed %.1f -> %.1f", it.ItemID, scores[it.ItemID], it.DisplayScore))
			}
		}
		above, below := scoring.Absent, scoring.Absent
		if g.to > 0 {
			above = scoring.At(after[g.to-1].DisplayScore)
		}
		if g.to < len(after)-1 {
			below = scoring.At(after[g.to+1].DisplayScore)
		}
		if want := scoring.ComputeScore(above, below, moved.DisplayScore); after[g.to].DisplayScore != want {
			out = append(out, fmt.Sprintf("moved score %.1f, want %.1f", after[g.to].DisplayScore, want))
		}
		return out
	}
}
