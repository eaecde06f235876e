// Package types contains the JSON shapes exchanged between the ranking
// server and its clients.
package types

import "github.com/okian/reelrank/internal/domain/model"

// RequestIDHeader carries the idempotency key of a mutation request.
const RequestIDHeader = "X-Request-ID"

// Ranking is one ranked item on the wire.
type Ranking struct {
	ItemID       string  `json:"item_id"`
	Position     int     `json:"position"`
	DisplayScore float64 `json:"display_score"`
	ContentType  string  `json:"content_type"`
	Title        string  `json:"title,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	Year         int     `json:"year,omitempty"`
}

// RankingList is the response of a list fetch.
type RankingList struct {
	UserID      string    `json:"user_id"`
	ContentType string    `json:"content_type"`
	Items       []Ranking `json:"items"`
}

// ReorderRequest is the body of a reorder call.
type ReorderRequest struct {
	FromIndex *int `json:"from_index" validate:"required,min=0"`
	ToIndex   *int `json:"to_index" validate:"required,min=0"`
}

// AppendRequest is the body of a call ranking a new title.
type AppendRequest struct {
	ItemID     string  `json:"item_id" validate:"required,max=128"`
	Score      float64 `json:"score" validate:"gte=1,lte=10"`
	Title      string  `json:"title" validate:"max=512"`
	PosterPath string  `json:"poster_path" validate:"max=1024"`
	Year       int     `json:"year" validate:"gte=0,lte=3000"`
}

// Ack acknowledges an applied mutation.
type Ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromItem converts a domain item into its wire shape.
func FromItem(it model.RankedItem) Ranking {
	return Ranking{
		ItemID:       it.ItemID,
		Position:     it.Position,
		DisplayScore: it.DisplayScore,
		ContentType:  string(it.ContentType),
		Title:        it.Metadata.Title,
		PosterPath:   it.Metadata.PosterPath,
		Year:         it.Metadata.Year,
	}
}

// FromList converts a domain list into wire rankings.
func FromList(l model.RankedList) []Ranking {
	out := make([]Ranking, len(l))
	for i := range l {
		out[i] = FromItem(l[i])
	}
	return out
}

// ToItem converts a wire ranking into a domain item.
func (r Ranking) ToItem() model.RankedItem {
	return model.RankedItem{
		ItemID:       r.ItemID,
		Position:     r.Position,
		DisplayScore: r.DisplayScore,
		ContentType:  model.ContentType(r.ContentType),
		Metadata: model.Metadata{
			Title:      r.Title,
			PosterPath: r.PosterPath,
			Year:       r.Year,
		},
	}
}

// ToList converts wire rankings into a domain list.
func ToList(rs []Ranking) model.RankedList {
	out := make(model.RankedList, len(rs))
	for i := range rs {
		out[i] = rs[i].ToItem()
	}
	return out
}
