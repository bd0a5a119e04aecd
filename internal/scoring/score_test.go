package scoring

import (
	"math"
	"testing"

	"github.com/reelrank/reelrank/internal/domain"
)

func TestScore_SingleItemIsMidpoint(t *testing.T) {
	for tier, band := range domain.Bands {
		got := Score(tier, 0, 1)
		want := math.Round((band.Min+band.Max)/2*1000) / 1000
		if got != want {
			t.Fatalf("Score(%s, 0, 1) = %v, want midpoint %v", tier, got, want)
		}
	}
}

func TestScore_TwoItemsSpanBand(t *testing.T) {
	// Liked band [6.9, 10.0]: best of two gets the top of the band, the
	// other gets the bottom.
	if got := Score(domain.TierLiked, 0, 2); got != 10.0 {
		t.Fatalf("rank 0 of 2 = %v, want 10.0", got)
	}
	if got := Score(domain.TierLiked, 1, 2); got != 6.9 {
		t.Fatalf("rank 1 of 2 = %v, want 6.9", got)
	}
}

func TestScore_WithinBand(t *testing.T) {
	for tier, band := range domain.Bands {
		for size := 1; size <= 40; size++ {
			for rank := 0; rank < size; rank++ {
				got := Score(tier, rank, size)
				if got < band.Min-1e-9 || got > band.Max+1e-9 {
					t.Fatalf("Score(%s, %d, %d) = %v outside band [%v, %v]",
						tier, rank, size, got, band.Min, band.Max)
				}
			}
		}
	}
}

func TestScore_StrictlyDecreasingAndDistinct(t *testing.T) {
	for _, size := range []int{2, 3, 5, 10, 25} {
		prev := math.Inf(1)
		seen := make(map[float64]bool)
		for rank := 0; rank < size; rank++ {
			got := Score(domain.TierNeutral, rank, size)
			if got >= prev {
				t.Fatalf("size %d: score at rank %d (%v) not below previous (%v)", size, rank, got, prev)
			}
			if seen[got] {
				t.Fatalf("size %d: duplicate score %v at rank %d", size, got, rank)
			}
			seen[got] = true
			prev = got
		}
	}
}

func TestScore_SymmetricAroundMidpoint(t *testing.T) {
	band := domain.Bands[domain.TierLiked]
	mid := (band.Min + band.Max) / 2
	for _, size := range []int{3, 4, 7, 12} {
		for rank := 0; rank < size; rank++ {
			mirror := size - 1 - rank
			a := Score(domain.TierLiked, rank, size)
			b := Score(domain.TierLiked, mirror, size)
			if diff := math.Abs((a - mid) + (b - mid)); diff > 0.002 {
				t.Fatalf("size %d: ranks %d/%d not symmetric around %v: %v vs %v",
					size, rank, mirror, mid, a, b)
			}
		}
	}
}

func TestScore_MatchesFormula(t *testing.T) {
	band := domain.Bands[domain.TierDisliked]
	size := 6
	centre := float64(size-1) / 2
	step := band.Half() / centre
	for rank := 0; rank < size; rank++ {
		want := math.Round((band.Mid()+(centre-float64(rank))*step)*1000) / 1000
		if got := Score(domain.TierDisliked, rank, size); got != want {
			t.Fatalf("Score(disliked, %d, %d) = %v, want %v", rank, size, got, want)
		}
	}
}
