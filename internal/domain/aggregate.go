package domain

import (
	"math"
	"time"
)

// CommunityAggregate is the cross-user running total/count/average for one
// content identity.
type CommunityAggregate struct {
	ID          string
	TotalScore  float64
	RatingCount int64
	Average     float64
	Title       string
	Category    Category
	UpdatedAt   time.Time
}

// Valid reports whether the stored record satisfies the aggregate invariants.
// A record that fails them is discarded and reseeded rather than propagated.
func (a CommunityAggregate) Valid() bool {
	if a.RatingCount < 0 {
		return false
	}
	if math.IsNaN(a.TotalScore) || math.IsInf(a.TotalScore, 0) {
		return false
	}
	if math.IsNaN(a.Average) || math.IsInf(a.Average, 0) {
		return false
	}
	return true
}
