// Package comparison implements the interactive binary search that places a
// new item among its same-tier peers through pairwise "which is better"
// decisions.
package comparison

import (
	"errors"
	"fmt"

	"github.com/reelrank/reelrank/internal/domain"
)

// Pick is a single human decision about one pairwise comparison.
type Pick string

const (
	// PickExisting means the already-ranked item wins: the new item ranks
	// below it.
	PickExisting Pick = "existing"
	// PickNew means the new item wins: it ranks above the compared item.
	PickNew Pick = "new"
	// PickTooClose ends the search immediately, slotting the new item one
	// place below the item it was just compared against.
	PickTooClose Pick = "too-close"
)

// ParsePick validates a pick string received from the outside.
func ParsePick(raw string) (Pick, error) {
	switch Pick(raw) {
	case PickExisting, PickNew, PickTooClose:
		return Pick(raw), nil
	}
	return "", fmt.Errorf("unknown comparison pick %q", raw)
}

// ErrFinished is returned when a decision is submitted to a session that has
// already produced its final rank.
var ErrFinished = errors.New("comparison: session already finished")

// Session is a single binary-search run over an ordered candidate slice. It
// holds no locks and touches no storage; the caller serializes access and
// commits the resulting rank.
type Session struct {
	candidates []domain.RatedItem
	low        int
	high       int
	decided    int
	done       bool
	rank       int
}

// NewSession starts a search over candidates sorted best-first. An empty
// candidate set finishes immediately with rank 1.
func NewSession(candidates []domain.RatedItem) *Session {
	s := &Session{
		candidates: candidates,
		low:        0,
		high:       len(candidates) - 1,
	}
	if len(candidates) == 0 {
		s.done = true
		s.rank = 1
	}
	return s
}

// Done reports whether the search has produced a final rank.
func (s *Session) Done() bool {
	return s.done
}

// Rank returns the final 1-indexed insertion rank. Only meaningful once Done
// reports true.
func (s *Session) Rank() int {
	return s.rank
}

// Comparisons returns how many decisions have been applied.
func (s *Session) Comparisons() int {
	return s.decided
}

// Current returns the candidate the user should compare against next.
func (s *Session) Current() (domain.RatedItem, bool) {
	if s.done {
		return domain.RatedItem{}, false
	}
	return s.candidates[s.mid()], true
}

// Compare applies one decision and advances the search. When the bounds
// cross, the final rank is low+1; a too-close pick short-circuits to one
// place below the item just compared.
func (s *Session) Compare(pick Pick) error {
	if s.done {
		return ErrFinished
	}
	mid := s.mid()
	s.decided++

	switch pick {
	case PickTooClose:
		s.done = true
		s.rank = mid + 2
		return nil
	case PickExisting:
		s.low = mid + 1
	case PickNew:
		s.high = mid - 1
	default:
		s.decided--
		return fmt.Errorf("unknown comparison pick %q", pick)
	}

	if s.low > s.high {
		s.done = true
		s.rank = s.low + 1
	}
	return nil
}

func (s *Session) mid() int {
	return (s.low + s.high) / 2
}
