package ranking

import (
	"fmt"
	"testing"

	"github.com/reelrank/reelrank/internal/domain"
	"github.com/reelrank/reelrank/internal/scoring"
)

func item(id string, tier domain.SentimentTier, score float64) domain.RatedItem {
	return domain.RatedItem{
		ID:       id,
		Title:    id,
		Category: domain.CategoryMovie,
		Tier:     tier,
		Score:    score,
	}
}

func checkPartition(t *testing.T, l *List) {
	t.Helper()
	prev := -1
	for i, it := range l.Items() {
		r, ok := tierRank[it.Tier]
		if !ok {
			t.Fatalf("item %d has unknown tier %q", i, it.Tier)
		}
		if r < prev {
			t.Fatalf("tier order violated at index %d: %q after rank %d", i, it.Tier, prev)
		}
		prev = r
	}
}

func TestList_InsertIntoEmptyList(t *testing.T) {
	l := NewList(nil)
	l.Insert(item("a", domain.TierLiked, 0), 1)

	changes := l.RecomputeTier(domain.TierLiked)
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	mid := domain.Bands[domain.TierLiked].Mid()
	if got := l.Items()[0].Score; got != mid {
		t.Fatalf("single item score = %v, want midpoint %v", got, mid)
	}
	checkPartition(t, l)
}

func TestList_InsertKeepsTierOrder(t *testing.T) {
	l := NewList([]domain.RatedItem{
		item("l1", domain.TierLiked, 9.0),
		item("d1", domain.TierDisliked, 2.0),
	})

	// Neutral tier is empty; the new item must land between liked and
	// disliked, not at the list end.
	l.Insert(item("n1", domain.TierNeutral, 0), 1)
	checkPartition(t, l)

	items := l.Items()
	if items[1].ID != "n1" {
		t.Fatalf("neutral item at index %d, want 1", indexOf(items, "n1"))
	}
}

func TestList_InsertClampsRank(t *testing.T) {
	l := NewList([]domain.RatedItem{
		item("a", domain.TierLiked, 9.0),
		item("b", domain.TierLiked, 8.0),
	})

	// Rank far past the section end clamps to the section's last slot.
	l.Insert(item("c", domain.TierLiked, 0), 99)
	items := l.TierItems(domain.TierLiked)
	if len(items) != 3 || items[2].ID != "c" {
		t.Fatalf("clamped insert misplaced: %v", ids(items))
	}

	// Rank 0 or negative clamps to the top.
	l.Insert(item("d", domain.TierLiked, 0), 0)
	if l.TierItems(domain.TierLiked)[0].ID != "d" {
		t.Fatalf("rank 0 should clamp to section start")
	}
	checkPartition(t, l)
}

func TestList_RecomputeEmitsDiffAndOrdering(t *testing.T) {
	l := NewList([]domain.RatedItem{item("a", domain.TierLiked, 8.45)})

	// New best item demotes a: scores spread across the band.
	l.Insert(item("b", domain.TierLiked, 0), 1)
	changes := l.RecomputeTier(domain.TierLiked)

	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	items := l.TierItems(domain.TierLiked)
	if items[0].ID != "b" || items[0].Score != 10.0 {
		t.Fatalf("best item = %s score %v, want b at 10.0", items[0].ID, items[0].Score)
	}
	if items[1].ID != "a" || items[1].Score != 6.9 {
		t.Fatalf("second item = %s score %v, want a at 6.9", items[1].ID, items[1].Score)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score >= items[i-1].Score {
			t.Fatalf("scores not strictly decreasing at %d", i)
		}
	}
}

func TestList_RecomputeSkipsNoise(t *testing.T) {
	// Seed the item with exactly the score recompute will produce.
	want := scoring.Score(domain.TierNeutral, 0, 1)
	l := NewList([]domain.RatedItem{item("a", domain.TierNeutral, want)})

	if changes := l.RecomputeTier(domain.TierNeutral); len(changes) != 0 {
		t.Fatalf("expected no diff for unchanged score, got %d", len(changes))
	}
}

func TestList_DeleteThenRecompute(t *testing.T) {
	l := NewList(nil)
	for i := 0; i < 5; i++ {
		l.Insert(item(fmt.Sprintf("m%d", i), domain.TierLiked, 0), i+1)
	}
	l.RecomputeTier(domain.TierLiked)

	removed, ok := l.Delete("m2")
	if !ok || removed.ID != "m2" {
		t.Fatalf("delete m2 failed: %v %v", removed.ID, ok)
	}
	if _, ok := l.Delete("m2"); ok {
		t.Fatalf("second delete should miss")
	}

	changes := l.RecomputeTier(domain.TierLiked)
	if len(changes) == 0 {
		t.Fatalf("removing a middle item should move remaining scores")
	}
	if got := len(l.TierItems(domain.TierLiked)); got != 4 {
		t.Fatalf("tier size = %d, want 4", got)
	}
	checkPartition(t, l)
}

func TestList_SectionsIndependentAcrossTiers(t *testing.T) {
	l := NewList(nil)
	l.Insert(item("l1", domain.TierLiked, 0), 1)
	l.Insert(item("n1", domain.TierNeutral, 0), 1)
	l.Insert(item("d1", domain.TierDisliked, 0), 1)
	l.RecomputeTier(domain.TierLiked)
	l.RecomputeTier(domain.TierNeutral)
	l.RecomputeTier(domain.TierDisliked)

	// Another liked insert must not disturb the other tiers.
	l.Insert(item("l2", domain.TierLiked, 0), 1)
	changes := l.RecomputeTier(domain.TierLiked)
	for _, c := range changes {
		if c.Item.Tier != domain.TierLiked {
			t.Fatalf("recompute leaked into tier %q", c.Item.Tier)
		}
	}
	checkPartition(t, l)

	for _, tier := range domain.TierOrder {
		band := domain.Bands[tier]
		for _, it := range l.TierItems(tier) {
			if !band.Contains(it.Score) {
				t.Fatalf("%s score %v outside band", it.ID, it.Score)
			}
		}
	}
}

func ids(items []domain.RatedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func indexOf(items []domain.RatedItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
