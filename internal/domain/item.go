package domain

import (
	"fmt"
	"time"
)

// Category distinguishes the independently ranked content kinds.
type Category string

const (
	CategoryMovie Category = "movie"
	CategoryShow  Category = "show"
)

// ParseCategory validates a category string received from the outside.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryMovie, CategoryShow:
		return Category(raw), nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// RatingState marks how far a rating has progressed toward being counted in
// the community aggregate. A pending or comparing item is visible on the
// user's list but has never touched the aggregate, so an interrupted
// insertion can always be retried or discarded safely.
type RatingState string

const (
	StatePending   RatingState = "pending"
	StateComparing RatingState = "comparing"
	StateCommitted RatingState = "committed"
	StateUpdated   RatingState = "updated"
)

// Counted reports whether the rating is reflected in the community aggregate.
func (s RatingState) Counted() bool {
	return s == StateCommitted || s == StateUpdated
}

// RatedItem is one user's rating of one content entity, placed and scored by
// position within its sentiment tier.
type RatedItem struct {
	ID               string
	UserID           string
	ExternalID       *string
	Title            string
	Category         Category
	Tier             SentimentTier
	Score            float64
	OriginalScore    float64
	ComparisonsCount int
	Genres           []string
	State            RatingState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ContentID is the identity used to key the community aggregate: the external
// catalog id when present, the internal id otherwise.
func (i RatedItem) ContentID() string {
	if i.ExternalID != nil && *i.ExternalID != "" {
		return *i.ExternalID
	}
	return i.ID
}

// ScoreChange records one item's score moving during a tier recompute.
type ScoreChange struct {
	Item     RatedItem
	OldScore float64
	NewScore float64
}
