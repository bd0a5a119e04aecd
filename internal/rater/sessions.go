package rater

import (
	"sync"
	"time"

	"github.com/reelrank/reelrank/internal/comparison"
	"github.com/reelrank/reelrank/internal/domain"
)

// insertionMode distinguishes a first-time rating from a re-rank that already
// ran its delete/remove compensation for a prior entry.
type insertionMode struct {
	reRank      bool
	priorItemID string
}

// session is one in-flight insertion: the pending item plus the suspended
// binary search awaiting human decisions. Nothing here has touched the
// community aggregate, so an abandoned session costs only a pending row.
type session struct {
	id        string
	userID    string
	item      domain.RatedItem
	mode      insertionMode
	search    *comparison.Session
	createdAt time.Time

	// mu serializes decisions for one session; the search itself is not
	// safe for concurrent use. Lock order is list guard first, then mu.
	mu sync.Mutex

	// Diff ledger for resumable finalization: each peer's pre-disturbance
	// score paired with its latest recomputed score, plus a marker for the
	// deltas that already reached the community aggregates. A finalize
	// attempt that fails mid-commit replays only the unapplied remainder.
	diffs   []domain.ScoreChange
	diffIdx map[string]int
	applied map[string]bool
}

// rememberDiffs merges freshly recomputed peer changes into the ledger. An
// unapplied entry keeps its original pre-disturbance score so the eventual
// replace carries the delta the aggregate still expects; an applied entry
// whose row moved again reopens with the new pair.
func (s *session) rememberDiffs(changes []domain.ScoreChange) {
	for _, c := range changes {
		if i, ok := s.diffIdx[c.Item.ID]; ok {
			if s.applied[c.Item.ID] {
				s.diffs[i] = c
				s.applied[c.Item.ID] = false
			} else {
				s.diffs[i].Item = c.Item
				s.diffs[i].NewScore = c.NewScore
			}
			continue
		}
		if s.diffIdx == nil {
			s.diffIdx = make(map[string]int)
			s.applied = make(map[string]bool)
		}
		s.diffIdx[c.Item.ID] = len(s.diffs)
		s.diffs = append(s.diffs, c)
	}
}

// unappliedDiffs returns the ledger entries whose aggregate delta has not
// been committed yet.
func (s *session) unappliedDiffs() []domain.ScoreChange {
	var out []domain.ScoreChange
	for _, d := range s.diffs {
		if !s.applied[d.Item.ID] {
			out = append(out, d)
		}
	}
	return out
}

func (s *session) markApplied(itemID string) {
	if s.applied == nil {
		s.applied = make(map[string]bool)
	}
	s.applied[itemID] = true
}

// sessionRegistry holds open comparison sessions in memory. Sessions are
// keyed by uuid and dropped after the configured TTL; expiry never leaks
// aggregate state because finalization only happens through Compare.
type sessionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{
		ttl:      ttl,
		sessions: make(map[string]*session),
	}
}

func (r *sessionRegistry) put(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.sessions[s.id] = s
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// ownsItem reports whether a live session is still working on the item.
func (r *sessionRegistry) ownsItem(itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	for _, s := range r.sessions {
		if s.item.ID == itemID {
			return true
		}
	}
	return false
}

// forList returns the live sessions targeting one personal list.
func (r *sessionRegistry) forList(userID string, category domain.Category) []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	var out []*session
	for _, s := range r.sessions {
		if s.userID == userID && s.item.Category == category {
			out = append(out, s)
		}
	}
	return out
}

func (r *sessionRegistry) sweepLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.ttl)
	for id, s := range r.sessions {
		if s.createdAt.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

// listKey identifies one personal list: all operations against the same
// (user, category) pair serialize on a single guard.
type listKey struct {
	userID   string
	category domain.Category
}

type listLocks struct {
	mu     sync.Mutex
	guards map[listKey]*sync.Mutex
}

func newListLocks() *listLocks {
	return &listLocks{guards: make(map[listKey]*sync.Mutex)}
}

// acquire locks the list guard for key and returns the unlock function.
// Insertions and deletions on one list never interleave.
func (l *listLocks) acquire(key listKey) func() {
	l.mu.Lock()
	guard, ok := l.guards[key]
	if !ok {
		guard = &sync.Mutex{}
		l.guards[key] = guard
	}
	l.mu.Unlock()

	guard.Lock()
	return guard.Unlock
}
