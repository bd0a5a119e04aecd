// Package ranking maintains one user's ordered list for a content category:
// three contiguous tier sections in fixed liked/neutral/disliked order, each
// sorted best-first, with scores derived purely from position.
package ranking

import (
	"math"

	"github.com/reelrank/reelrank/internal/domain"
	"github.com/reelrank/reelrank/internal/scoring"
)

var tierRank = map[domain.SentimentTier]int{
	domain.TierLiked:    0,
	domain.TierNeutral:  1,
	domain.TierDisliked: 2,
}

// List is the in-memory working copy of one (user, category) sequence. It is
// not safe for concurrent use; callers hold the list's single-writer guard
// for the whole insert/recompute/persist cycle.
type List struct {
	items []domain.RatedItem
}

// NewList builds a working list from persisted items. Items are expected in
// list order (tier sections best-first), which is how the repository loads
// them.
func NewList(items []domain.RatedItem) *List {
	return &List{items: items}
}

// Items returns the list in order. The returned slice is the list's backing
// storage; callers must not retain it across mutations.
func (l *List) Items() []domain.RatedItem {
	return l.items
}

// Len returns the total number of items.
func (l *List) Len() int {
	return len(l.items)
}

// TierItems returns the section for one tier, best-first.
func (l *List) TierItems(tier domain.SentimentTier) []domain.RatedItem {
	start, end := l.section(tier)
	return l.items[start:end]
}

// Insert splices item into its tier section at the given 1-indexed rank.
// Ranks beyond the section are clamped to its end, so a comparator rank that
// points one past the last compared item still lands inside the section.
func (l *List) Insert(item domain.RatedItem, rank int) {
	start, end := l.section(item.Tier)
	offset := rank - 1
	if offset < 0 {
		offset = 0
	}
	if sectionLen := end - start; offset > sectionLen {
		offset = sectionLen
	}
	at := start + offset

	l.items = append(l.items, domain.RatedItem{})
	copy(l.items[at+1:], l.items[at:])
	l.items[at] = item
}

// RecomputeTier rescores every item in the tier from its current position and
// returns the changes that exceed the propagation threshold. Scores are
// overwritten in place; sub-threshold movements are dropped as float noise.
func (l *List) RecomputeTier(tier domain.SentimentTier) []domain.ScoreChange {
	start, end := l.section(tier)
	size := end - start

	var changes []domain.ScoreChange
	for i := start; i < end; i++ {
		old := l.items[i].Score
		next := scoring.Score(tier, i-start, size)
		l.items[i].Score = next
		if math.Abs(old-next) > scoring.Noise {
			changes = append(changes, domain.ScoreChange{
				Item:     l.items[i],
				OldScore: old,
				NewScore: next,
			})
		}
	}
	return changes
}

// Delete removes an item by identity and returns it. The caller recomputes
// the disturbed tier afterwards.
func (l *List) Delete(id string) (domain.RatedItem, bool) {
	for i, it := range l.items {
		if it.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return it, true
		}
	}
	return domain.RatedItem{}, false
}

// section returns the half-open index range of a tier's contiguous section.
// An empty tier resolves to its partition boundary so insertion keeps the
// fixed liked/neutral/disliked order.
func (l *List) section(tier domain.SentimentTier) (int, int) {
	target := tierRank[tier]
	start := len(l.items)
	for i, it := range l.items {
		if tierRank[it.Tier] >= target {
			start = i
			break
		}
	}
	end := start
	for end < len(l.items) && l.items[end].Tier == tier {
		end++
	}
	return start, end
}
