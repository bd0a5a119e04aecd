// Package scoring converts an item's rank within its sentiment tier into a
// numeric score inside the tier's band.
package scoring

import (
	"math"

	"github.com/reelrank/reelrank/internal/domain"
)

// Noise is the threshold below which a score movement is considered
// floating-point noise and not propagated to the community aggregate.
const Noise = 0.001

// Score maps a 0-indexed rank (0 = best) within a tier of tierSize items to a
// score in the tier's band. Items are spread symmetrically around the band
// midpoint: rank 0 lands on the band max, rank tierSize-1 on the band min,
// with the spacing between neighbours shrinking as the tier grows. A tier of
// one item scores exactly the midpoint.
func Score(tier domain.SentimentTier, rank, tierSize int) float64 {
	band := domain.Bands[tier]
	mid := band.Mid()
	if tierSize <= 1 {
		return round3(mid)
	}

	centre := float64(tierSize-1) / 2
	// The 0.5 floor keeps the divisor sane for the two-item tier and makes
	// the endpoints land on the band edges.
	step := band.Half() / math.Max(centre, 0.5)
	raw := mid + (centre-float64(rank))*step
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return round3(mid)
	}
	return round3(raw)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
