package comparison

import (
	"fmt"
	"math"
	"testing"

	"github.com/reelrank/reelrank/internal/domain"
)

func candidates(n int) []domain.RatedItem {
	items := make([]domain.RatedItem, n)
	for i := range items {
		items[i] = domain.RatedItem{
			ID:    fmt.Sprintf("item-%d", i),
			Title: fmt.Sprintf("Movie %d", i),
			// Best-first: descending scores.
			Score: float64(n - i),
		}
	}
	return items
}

func TestSession_EmptyTier(t *testing.T) {
	s := NewSession(nil)
	if !s.Done() {
		t.Fatalf("empty session should be done immediately")
	}
	if s.Rank() != 1 {
		t.Fatalf("rank = %d, want 1", s.Rank())
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("empty session should have no current candidate")
	}
	if err := s.Compare(PickNew); err != ErrFinished {
		t.Fatalf("Compare on finished session = %v, want ErrFinished", err)
	}
}

// Drive a session with an oracle that knows the new item's true value and
// check the returned rank equals the number of strictly better candidates
// plus one, for every possible true position.
func TestSession_FindsTruePosition(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 10, 31, 100} {
		items := candidates(n)
		for better := 0; better <= n; better++ {
			// The new item is worse than the first `better` candidates.
			value := float64(n-better) + 0.5
			s := NewSession(items)
			for !s.Done() {
				cur, ok := s.Current()
				if !ok {
					t.Fatalf("n=%d: no current candidate on unfinished session", n)
				}
				pick := PickNew
				if cur.Score > value {
					pick = PickExisting
				}
				if err := s.Compare(pick); err != nil {
					t.Fatalf("n=%d: compare: %v", n, err)
				}
			}
			if got, want := s.Rank(), better+1; got != want {
				t.Fatalf("n=%d better=%d: rank = %d, want %d", n, better, got, want)
			}
		}
	}
}

func TestSession_ComparisonBound(t *testing.T) {
	for _, n := range []int{1, 2, 5, 16, 100, 1000} {
		items := candidates(n)
		bound := int(math.Ceil(math.Log2(float64(n + 1))))
		for better := 0; better <= n; better++ {
			value := float64(n-better) + 0.5
			s := NewSession(items)
			for !s.Done() {
				cur, _ := s.Current()
				pick := PickNew
				if cur.Score > value {
					pick = PickExisting
				}
				if err := s.Compare(pick); err != nil {
					t.Fatalf("compare: %v", err)
				}
			}
			if s.Comparisons() > bound {
				t.Fatalf("n=%d better=%d: %d comparisons, bound %d", n, better, s.Comparisons(), bound)
			}
		}
	}
}

func TestSession_TooCloseShortCircuits(t *testing.T) {
	// Five candidates: first probe is the middle one (index 2); too-close
	// places the new item directly below it.
	s := NewSession(candidates(5))
	cur, ok := s.Current()
	if !ok || cur.ID != "item-2" {
		t.Fatalf("first probe = %+v, want item-2", cur)
	}
	if err := s.Compare(PickTooClose); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !s.Done() {
		t.Fatalf("too-close should finish the session")
	}
	if s.Rank() != 4 {
		t.Fatalf("rank = %d, want 4 (one below the probed item)", s.Rank())
	}
	if s.Comparisons() != 1 {
		t.Fatalf("comparisons = %d, want 1", s.Comparisons())
	}
}

func TestSession_TooCloseAfterNarrowing(t *testing.T) {
	s := NewSession(candidates(7))
	// Worse than the middle (index 3) -> search moves to indexes 4..6.
	if err := s.Compare(PickExisting); err != nil {
		t.Fatalf("compare: %v", err)
	}
	cur, _ := s.Current()
	if cur.ID != "item-5" {
		t.Fatalf("second probe = %s, want item-5", cur.ID)
	}
	if err := s.Compare(PickTooClose); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if s.Rank() != 7 {
		t.Fatalf("rank = %d, want 7", s.Rank())
	}
}

func TestSession_RejectsUnknownPick(t *testing.T) {
	s := NewSession(candidates(3))
	if err := s.Compare(Pick("maybe")); err == nil {
		t.Fatalf("expected error for unknown pick")
	}
	if s.Comparisons() != 0 {
		t.Fatalf("failed pick should not count as a comparison")
	}
}

func TestParsePick(t *testing.T) {
	for _, raw := range []string{"existing", "new", "too-close"} {
		if _, err := ParsePick(raw); err != nil {
			t.Fatalf("ParsePick(%q): %v", raw, err)
		}
	}
	if _, err := ParsePick("both"); err == nil {
		t.Fatalf("expected error for invalid pick")
	}
}
