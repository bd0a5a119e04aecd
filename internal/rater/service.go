// Package rater orchestrates the full insertion protocol: duplicate guard,
// pending persist, comparison session, list placement, score recompute, and
// the multi-step community-aggregate commit with its crash-recovery states.
package rater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelrank/reelrank/internal/catalog"
	"github.com/reelrank/reelrank/internal/comparison"
	"github.com/reelrank/reelrank/internal/domain"
	"github.com/reelrank/reelrank/internal/ranking"
	"github.com/reelrank/reelrank/internal/repository"
)

// ErrDuplicateRating indicates the user already rated this content; the
// insertion aborts without side effects.
var ErrDuplicateRating = errors.New("rater: content already rated")

// ErrSessionNotFound indicates an unknown or expired comparison session.
var ErrSessionNotFound = errors.New("rater: comparison session not found")

// Service sequences the comparator, the personal list, and the community
// aggregate store.
type Service struct {
	repo     *repository.Repository
	catalog  catalog.Client
	logger   *log.Logger
	sessions *sessionRegistry
	locks    *listLocks
}

// NewService constructs the orchestrator.
func NewService(repo *repository.Repository, cat catalog.Client, sessionTTL time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  cat,
		logger:   logger,
		sessions: newSessionRegistry(sessionTTL),
		locks:    newListLocks(),
	}
}

// BeginParams describes a new rating request.
type BeginParams struct {
	UserID     string
	ExternalID *string
	Title      string
	Category   domain.Category
	Tier       domain.SentimentTier
	Genres     []string
}

// Comparison is the next pairwise question for the user.
type Comparison struct {
	SessionID string
	Candidate domain.RatedItem
	Decided   int
}

// Outcome is a finished insertion: the scored item, its rank within the
// tier, and every peer whose score moved.
type Outcome struct {
	Item    domain.RatedItem
	Rank    int
	Changes []domain.ScoreChange
}

// Progress is the result of one orchestrator step: either an open comparison
// awaiting a decision, or the final outcome.
type Progress struct {
	Comparison *Comparison
	Outcome    *Outcome
}

// InsertNew starts rating a new item. If the tier already holds items the
// call returns an open comparison session; an empty tier completes
// immediately.
func (s *Service) InsertNew(ctx context.Context, params BeginParams) (Progress, error) {
	resolved, err := s.resolveMetadata(ctx, params)
	if err != nil {
		return Progress{}, err
	}
	return s.begin(ctx, resolved, insertionMode{})
}

// Compare applies one human decision to an open session. It returns the next
// comparison, or the final outcome once the search terminates. When a prior
// call failed mid-commit the search is already done; calling Compare again
// then skips the decision and resumes the interrupted finalization.
func (s *Service) Compare(ctx context.Context, userID, sessionID string, pick comparison.Pick) (Progress, error) {
	sess, ok := s.sessions.get(sessionID)
	if !ok || sess.userID != userID {
		return Progress{}, ErrSessionNotFound
	}

	key := listKey{userID: sess.userID, category: sess.item.Category}
	unlock := s.locks.acquire(key)
	defer unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// A deletion on this list may have settled and dropped the session
	// while we waited for the guard.
	if _, ok := s.sessions.get(sessionID); !ok {
		return Progress{}, ErrSessionNotFound
	}

	if !sess.search.Done() {
		if err := sess.search.Compare(pick); err != nil {
			return Progress{}, err
		}
		if sess.search.Comparisons() == 1 {
			if err := s.repo.Items.SetState(ctx, sess.item.ID, domain.StateComparing); err != nil {
				s.logger.Printf("rater: mark comparing failed for %s: %v", sess.item.ID, err)
			}
		}
		if !sess.search.Done() {
			candidate, _ := sess.search.Current()
			return Progress{Comparison: &Comparison{
				SessionID: sess.id,
				Candidate: candidate,
				Decided:   sess.search.Comparisons(),
			}}, nil
		}
	}

	outcome, err := s.finalizeLocked(ctx, sess)
	if err != nil {
		// The session stays registered; the next Compare resumes the
		// commit from the ledger.
		return Progress{}, err
	}
	s.sessions.remove(sess.id)
	return Progress{Outcome: outcome}, nil
}

// ReRank moves an existing item to a possibly different tier: the prior
// entry is deleted and its aggregate contribution removed, then the item is
// re-inserted as a fresh rating.
func (s *Service) ReRank(ctx context.Context, userID string, category domain.Category, itemID string, newTier domain.SentimentTier) (Progress, error) {
	key := listKey{userID: userID, category: category}
	unlock := s.locks.acquire(key)

	item, err := s.ownedItem(ctx, userID, category, itemID)
	if err != nil {
		unlock()
		return Progress{}, err
	}
	if _, err := s.removeLocked(ctx, item); err != nil {
		unlock()
		return Progress{}, err
	}
	unlock()

	params := BeginParams{
		UserID:     userID,
		ExternalID: item.ExternalID,
		Title:      item.Title,
		Category:   category,
		Tier:       newTier,
		Genres:     item.Genres,
	}
	return s.begin(ctx, params, insertionMode{reRank: true, priorItemID: item.ID})
}

// Delete removes an item, uncounts its aggregate contribution, and rescores
// the disturbed tier. It returns the peer score changes.
func (s *Service) Delete(ctx context.Context, userID string, category domain.Category, itemID string) ([]domain.ScoreChange, error) {
	key := listKey{userID: userID, category: category}
	unlock := s.locks.acquire(key)
	defer unlock()

	item, err := s.ownedItem(ctx, userID, category, itemID)
	if err != nil {
		return nil, err
	}
	return s.removeLocked(ctx, item)
}

// List returns the user's personal list in list order.
func (s *Service) List(ctx context.Context, userID string, category domain.Category) ([]domain.RatedItem, error) {
	return s.repo.Items.ListByUser(ctx, userID, category)
}

// Aggregate returns the community aggregate for one content id.
func (s *Service) Aggregate(ctx context.Context, contentID string) (domain.CommunityAggregate, error) {
	return s.repo.Aggregates.Get(ctx, contentID)
}

// resolveMetadata fills title/category/genres from the catalog when the
// caller supplied only an external id.
func (s *Service) resolveMetadata(ctx context.Context, params BeginParams) (BeginParams, error) {
	if params.Title != "" || params.ExternalID == nil || s.catalog == nil {
		return params, nil
	}

	entry, err := s.catalog.Lookup(ctx, *params.ExternalID)
	if err != nil {
		return BeginParams{}, fmt.Errorf("resolve catalog metadata: %w", err)
	}
	params.Title = entry.Title
	if len(params.Genres) == 0 {
		params.Genres = entry.Genres
	}
	if params.Category == "" {
		if cat, err := domain.ParseCategory(entry.Category); err == nil {
			params.Category = cat
		}
	}
	return params, nil
}

func (s *Service) begin(ctx context.Context, params BeginParams, mode insertionMode) (Progress, error) {
	key := listKey{userID: params.UserID, category: params.Category}
	unlock := s.locks.acquire(key)
	defer unlock()

	if params.ExternalID != nil && *params.ExternalID != "" {
		if err := s.guardDuplicate(ctx, params.UserID, *params.ExternalID, mode.priorItemID); err != nil {
			return Progress{}, err
		}
	}

	item, err := s.repo.Items.Create(ctx, repository.ItemCreateParams{
		ID:         uuid.NewString(),
		UserID:     params.UserID,
		ExternalID: params.ExternalID,
		Title:      params.Title,
		Category:   params.Category,
		Tier:       params.Tier,
		Genres:     params.Genres,
	})
	if err != nil {
		return Progress{}, fmt.Errorf("persist pending item: %w", err)
	}

	candidates, err := s.candidatesLocked(ctx, item)
	if err != nil {
		return Progress{}, err
	}

	sess := &session{
		id:        uuid.NewString(),
		userID:    params.UserID,
		item:      item,
		mode:      mode,
		search:    comparison.NewSession(candidates),
		createdAt: time.Now(),
	}

	if sess.search.Done() {
		outcome, err := s.finalizeLocked(ctx, sess)
		if err != nil {
			return Progress{}, err
		}
		return Progress{Outcome: outcome}, nil
	}

	s.sessions.put(sess)
	candidate, _ := sess.search.Current()
	return Progress{Comparison: &Comparison{
		SessionID: sess.id,
		Candidate: candidate,
	}}, nil
}

// guardDuplicate blocks a second rating for content the user already counted
// or is actively rating, and reclaims uncounted leftovers of interrupted
// insertions so a crashed run never wedges the content id.
func (s *Service) guardDuplicate(ctx context.Context, userID, externalID, excludeID string) error {
	if _, found, err := s.repo.Items.CountedOther(ctx, userID, externalID, excludeID); err != nil {
		return err
	} else if found {
		return ErrDuplicateRating
	}

	for {
		stale, found, err := s.repo.Items.UncountedOther(ctx, userID, externalID, excludeID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if s.sessions.ownsItem(stale.ID) {
			// A live session is still rating this content.
			return ErrDuplicateRating
		}
		s.logger.Printf("rater: reclaiming stale %s rating %s for %s", stale.State, stale.ID, externalID)
		if err := s.repo.Items.Delete(ctx, stale.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
}

// candidatesLocked loads the same-tier comparison candidates: already-counted
// items only, best-first, never the item being placed (by id or by external
// content id).
func (s *Service) candidatesLocked(ctx context.Context, item domain.RatedItem) ([]domain.RatedItem, error) {
	items, err := s.repo.Items.ListByUser(ctx, item.UserID, item.Category)
	if err != nil {
		return nil, fmt.Errorf("load personal list: %w", err)
	}

	var candidates []domain.RatedItem
	for _, it := range items {
		if it.Tier != item.Tier || !it.State.Counted() {
			continue
		}
		if it.ID == item.ID || sameExternalID(it, item) {
			continue
		}
		candidates = append(candidates, it)
	}
	return candidates, nil
}

// finalizeLocked commits a terminated search: list insertion, tier
// recompute, personal score persistence, and the aggregate protocol. The
// caller holds the list guard. Peer deltas land in the session's ledger
// before any write, so a failure at any step leaves the operation resumable:
// the next attempt rebuilds the list from the persisted rows and replays
// only the aggregate deltas the ledger has not marked applied.
func (s *Service) finalizeLocked(ctx context.Context, sess *session) (*Outcome, error) {
	current, err := s.repo.Items.GetByID(ctx, sess.item.ID)
	if err != nil {
		return nil, fmt.Errorf("reload pending item: %w", err)
	}

	list, err := s.scoredListLocked(ctx, sess.userID, current.Category, current.ID)
	if err != nil {
		return nil, err
	}

	rank := sess.search.Rank()
	list.Insert(current, rank)
	changes := list.RecomputeTier(current.Tier)

	var placed domain.RatedItem
	fresh := changes[:0]
	for _, change := range changes {
		if change.Item.ID != current.ID {
			fresh = append(fresh, change)
		}
	}
	for _, it := range list.TierItems(current.Tier) {
		if it.ID == current.ID {
			placed = it
			break
		}
	}
	if placed.ID == "" {
		return nil, fmt.Errorf("placed item %s missing from tier after recompute", current.ID)
	}
	sess.rememberDiffs(fresh)

	firstScore := !current.State.Counted()
	if err := s.repo.Items.SetScore(ctx, placed.ID, placed.Score, current.State, firstScore); err != nil {
		return nil, fmt.Errorf("persist placed score: %w", err)
	}
	for _, change := range fresh {
		if err := s.repo.Items.SetScore(ctx, change.Item.ID, change.NewScore, domain.StateUpdated, false); err != nil {
			return nil, fmt.Errorf("persist peer score: %w", err)
		}
	}

	if err := s.commitAggregate(ctx, current, placed.Score); err != nil {
		return nil, err
	}

	if err := s.fanOutDiffs(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.repo.Items.SetComparisons(ctx, placed.ID, sess.search.Comparisons()); err != nil {
		s.logger.Printf("rater: record comparisons failed for %s: %v", placed.ID, err)
	}

	final, err := s.repo.Items.GetByID(ctx, placed.ID)
	if err != nil {
		final = placed
	}
	return &Outcome{Item: final, Rank: rank, Changes: sess.diffs}, nil
}

// commitAggregate runs the new-vs-existing aggregate step. An item already in
// a counted state is only adjusted by delta, which is what makes a resumed
// commit safe against double counting.
func (s *Service) commitAggregate(ctx context.Context, item domain.RatedItem, score float64) error {
	seed := seedFor(item)

	if item.State.Counted() {
		if item.Score == score {
			return nil
		}
		if _, err := s.repo.Aggregates.Replace(ctx, seed, item.Score, score); err != nil {
			return fmt.Errorf("adjust counted rating: %w", err)
		}
		return s.repo.Items.SetState(ctx, item.ID, domain.StateUpdated)
	}

	if item.ExternalID != nil && *item.ExternalID != "" {
		other, found, err := s.repo.Items.CountedOther(ctx, item.UserID, *item.ExternalID, item.ID)
		if err != nil {
			return err
		}
		if found {
			if _, err := s.repo.Aggregates.Replace(ctx, seed, other.Score, score); err != nil {
				return fmt.Errorf("replace rating: %w", err)
			}
			return s.repo.Items.SetState(ctx, item.ID, domain.StateUpdated)
		}
	}

	if _, err := s.repo.Aggregates.Add(ctx, seed, score); err != nil {
		if errors.Is(err, repository.ErrInvalidScore) {
			s.logger.Printf("rater: dropped invalid score %v for %s", score, seed.ContentID)
			return nil
		}
		return fmt.Errorf("add rating: %w", err)
	}
	return s.repo.Items.SetState(ctx, item.ID, domain.StateCommitted)
}

// fanOutPeers pushes each disturbed peer's score delta into its own
// aggregate. The content ids are disjoint, so the transactions run in
// parallel.
func (s *Service) fanOutPeers(ctx context.Context, peers []domain.ScoreChange) error {
	if len(peers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, change := range peers {
		change := change
		g.Go(func() error {
			_, err := s.repo.Aggregates.Replace(gctx, seedFor(change.Item), change.OldScore, change.NewScore)
			if errors.Is(err, repository.ErrInvalidScore) {
				s.logger.Printf("rater: dropped invalid peer score for %s", change.Item.ContentID())
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("propagate peer scores: %w", err)
	}
	return nil
}

// fanOutDiffs commits the session's unapplied ledger entries to the
// community aggregates and marks each one as it lands, so a partial failure
// replays only the remainder. Caller holds the session lock.
func (s *Service) fanOutDiffs(ctx context.Context, sess *session) error {
	diffs := sess.unappliedDiffs()
	if len(diffs) == 0 {
		return nil
	}

	done := make([]bool, len(diffs))
	g, gctx := errgroup.WithContext(ctx)
	for i, change := range diffs {
		i, change := i, change
		g.Go(func() error {
			_, err := s.repo.Aggregates.Replace(gctx, seedFor(change.Item), change.OldScore, change.NewScore)
			if errors.Is(err, repository.ErrInvalidScore) {
				s.logger.Printf("rater: dropped invalid peer score for %s", change.Item.ContentID())
				err = nil
			}
			if err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()
	for i, change := range diffs {
		if done[i] {
			sess.markApplied(change.Item.ID)
		}
	}
	if err != nil {
		return fmt.Errorf("propagate peer scores: %w", err)
	}
	return nil
}

// removeLocked deletes an item, removes its counted contribution, and
// rescores the remaining tier members. Interrupted finalizations on the same
// list are settled first so the compensating replaces see aggregates that
// match the persisted scores.
func (s *Service) removeLocked(ctx context.Context, item domain.RatedItem) ([]domain.ScoreChange, error) {
	for _, sess := range s.sessions.forList(item.UserID, item.Category) {
		sess.mu.Lock()
		err := s.fanOutDiffs(ctx, sess)
		if err == nil && sess.item.ID == item.ID {
			s.sessions.remove(sess.id)
		}
		sess.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Items.Delete(ctx, item.ID); err != nil {
		return nil, err
	}

	if item.State.Counted() {
		if err := s.repo.Aggregates.Remove(ctx, item.ContentID(), item.Score); err != nil {
			return nil, fmt.Errorf("remove rating: %w", err)
		}
	}

	list, err := s.scoredListLocked(ctx, item.UserID, item.Category, item.ID)
	if err != nil {
		return nil, err
	}
	changes := list.RecomputeTier(item.Tier)

	for _, change := range changes {
		if err := s.repo.Items.SetScore(ctx, change.Item.ID, change.NewScore, domain.StateUpdated, false); err != nil {
			return nil, fmt.Errorf("persist peer score: %w", err)
		}
	}
	if err := s.fanOutPeers(ctx, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// scoredListLocked builds the ranking list from items that already carry real
// scores. Pending leftovers from interrupted sessions stay out until their
// own commit runs.
func (s *Service) scoredListLocked(ctx context.Context, userID string, category domain.Category, excludeID string) (*ranking.List, error) {
	items, err := s.repo.Items.ListByUser(ctx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("load personal list: %w", err)
	}
	scored := make([]domain.RatedItem, 0, len(items))
	for _, it := range items {
		if it.ID == excludeID || !it.State.Counted() {
			continue
		}
		scored = append(scored, it)
	}
	return ranking.NewList(scored), nil
}

func (s *Service) ownedItem(ctx context.Context, userID string, category domain.Category, itemID string) (domain.RatedItem, error) {
	// Item ids are uuids; anything else cannot name a row and would only
	// trip the uuid decoder inside Postgres.
	if _, err := uuid.Parse(itemID); err != nil {
		return domain.RatedItem{}, repository.ErrNotFound
	}
	item, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return domain.RatedItem{}, err
	}
	if item.UserID != userID || item.Category != category {
		return domain.RatedItem{}, repository.ErrNotFound
	}
	return item, nil
}

func seedFor(item domain.RatedItem) repository.AggregateSeed {
	return repository.AggregateSeed{
		ContentID: item.ContentID(),
		Title:     item.Title,
		Category:  item.Category,
	}
}

func sameExternalID(a, b domain.RatedItem) bool {
	if a.ExternalID == nil || b.ExternalID == nil {
		return false
	}
	return *a.ExternalID != "" && *a.ExternalID == *b.ExternalID
}
