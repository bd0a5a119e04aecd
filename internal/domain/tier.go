package domain

import "fmt"

// SentimentTier is one of the three ordered qualitative buckets a rating
// belongs to. Tiers are ordered liked > neutral > disliked.
type SentimentTier string

const (
	TierLiked    SentimentTier = "liked"
	TierNeutral  SentimentTier = "neutral"
	TierDisliked SentimentTier = "disliked"
)

// TierOrder lists the tiers in fixed display order, best first.
var TierOrder = []SentimentTier{TierLiked, TierNeutral, TierDisliked}

// Band is the fixed numeric score range assigned to a tier.
type Band struct {
	Min float64
	Max float64
}

// Mid returns the midpoint of the band.
func (b Band) Mid() float64 {
	return (b.Min + b.Max) / 2
}

// Half returns half the band's width.
func (b Band) Half() float64 {
	return (b.Max - b.Min) / 2
}

// Contains reports whether score falls inside the band (inclusive).
func (b Band) Contains(score float64) bool {
	return score >= b.Min && score <= b.Max
}

// Bands holds the global, immutable tier-to-range configuration.
var Bands = map[SentimentTier]Band{
	TierLiked:    {Min: 6.9, Max: 10.0},
	TierNeutral:  {Min: 4.0, Max: 6.8},
	TierDisliked: {Min: 0.0, Max: 3.9},
}

// ParseTier validates a tier string received from the outside.
func ParseTier(raw string) (SentimentTier, error) {
	switch SentimentTier(raw) {
	case TierLiked, TierNeutral, TierDisliked:
		return SentimentTier(raw), nil
	}
	return "", fmt.Errorf("unknown sentiment tier %q", raw)
}
