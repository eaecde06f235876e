// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidContentType is returned when a content type is neither movie nor tv.
var ErrInvalidContentType = errors.New("invalid content type")

// ContentType selects one partition of a user's rankings.
type ContentType string

// Supported content types.
const (
	Movie ContentType = "movie"
	TV    ContentType = "tv"
)

// ContentTypes lists every partition a user owns.
var ContentTypes = []ContentType{Movie, TV}

// ParseContentType converts a user supplied string into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, s)
	}
	return ct, nil
}

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	return c == Movie || c == TV
}

func (c ContentType) String() string { return string(c) }

// Metadata is presentation data carried along with a ranked item.
// The ranking engines never read it.
type Metadata struct {
	Title      string
	PosterPath string
	Year       int
}

// RankedItem is one title in a user's ordered list.
type RankedItem struct {
	ItemID       string
	Position     int     // 1-based, dense within the partition
	DisplayScore float64 // [1.0, 10.0], one decimal
	ContentType  ContentType
	Metadata     Metadata
}

// RankedList is a partition ordered by ascending Position.
type RankedList []RankedItem

// Clone returns an independent copy of l.
func (l RankedList) Clone() RankedList {
	if l == nil {
		return nil
	}
	out := make(RankedList, len(l))
	copy(out, l)
	return out
}

// IndexOf returns the index of itemID or -1.
func (l RankedList) IndexOf(itemID string) int {
	for i := range l {
		if l[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// Renumber rewrites every position to index+1 in place.
func (l RankedList) Renumber() {
	for i := range l {
		l[i].Position = i + 1
	}
}

// Dense reports whether positions are exactly 1..N in list order.
func (l RankedList) Dense() bool {
	for i := range l {
		if l[i].Position != i+1 {
			return false
		}
	}
	return true
}

// Equal reports whether both lists hold the same items, positions and scores.
func (l RankedList) Equal(other RankedList) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// Partition identifies one ranked list.
type Partition struct {
	UserID      string
	ContentType ContentType
}

func (p Partition) String() string {
	return p.UserID + "/" + string(p.ContentType)
}
