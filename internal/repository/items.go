package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelrank/reelrank/internal/domain"
)

// ItemsRepository provides persistence for one user's rated items.
type ItemsRepository struct {
	pool *pgxpool.Pool
}

const itemColumns = `
    id,
    user_id,
    external_id,
    title,
    category,
    tier,
    score,
    original_score,
    comparisons_count,
    genres,
    state,
    created_at,
    updated_at
`

// ItemCreateParams bundles the fields required to persist a new rated item.
// The item starts in the pending state with no score; scoring happens once
// its rank is known.
type ItemCreateParams struct {
	ID         string
	UserID     string
	ExternalID *string
	Title      string
	Category   domain.Category
	Tier       domain.SentimentTier
	Genres     []string
}

// Create inserts a pending rated item and returns the stored entity.
func (r *ItemsRepository) Create(ctx context.Context, params ItemCreateParams) (domain.RatedItem, error) {
	query := fmt.Sprintf(`
        INSERT INTO rated_items (id, user_id, external_id, title, category, tier, genres, state)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING %s
    `, itemColumns)

	genres := params.Genres
	if genres == nil {
		genres = []string{}
	}
	row := r.pool.QueryRow(ctx, query,
		params.ID, params.UserID, params.ExternalID, params.Title,
		string(params.Category), string(params.Tier), genres, string(domain.StatePending))
	return scanItem(row)
}

// GetByID fetches an item by identifier.
func (r *ItemsRepository) GetByID(ctx context.Context, id string) (domain.RatedItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM rated_items WHERE id = $1`, itemColumns)
	item, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RatedItem{}, ErrNotFound
		}
		return domain.RatedItem{}, err
	}
	return item, nil
}

// ListByUser returns the user's personal list for one category in list order:
// tier sections in fixed order, each best-first. Timestamps break the tie for
// unscored pending items.
func (r *ItemsRepository) ListByUser(ctx context.Context, userID string, category domain.Category) ([]domain.RatedItem, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM rated_items
        WHERE user_id = $1 AND category = $2
        ORDER BY CASE tier WHEN 'liked' THEN 0 WHEN 'neutral' THEN 1 ELSE 2 END,
                 score DESC, created_at ASC
    `, itemColumns)

	rows, err := r.pool.Query(ctx, query, userID, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.RatedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountedOther returns the user's other rating for the external content id
// that is already reflected in the community aggregate, if one exists. Its
// score is the old side of the replace-rating delta. The exclusion compares
// on text so an empty or foreign id simply excludes nothing.
func (r *ItemsRepository) CountedOther(ctx context.Context, userID, externalID, excludeID string) (domain.RatedItem, bool, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM rated_items
        WHERE user_id = $1 AND external_id = $2 AND id::text <> $3
          AND state IN ('committed', 'updated')
        ORDER BY updated_at DESC
        LIMIT 1
    `, itemColumns)

	item, err := scanItem(r.pool.QueryRow(ctx, query, userID, externalID, excludeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RatedItem{}, false, nil
		}
		return domain.RatedItem{}, false, fmt.Errorf("find counted rating: %w", err)
	}
	return item, true, nil
}

// UncountedOther returns the user's newest rating for the external content id
// that never reached the community aggregate, if one exists. Such rows are
// leftovers of interrupted insertions and may be reclaimed.
func (r *ItemsRepository) UncountedOther(ctx context.Context, userID, externalID, excludeID string) (domain.RatedItem, bool, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM rated_items
        WHERE user_id = $1 AND external_id = $2 AND id::text <> $3
          AND state NOT IN ('committed', 'updated')
        ORDER BY created_at DESC
        LIMIT 1
    `, itemColumns)

	item, err := scanItem(r.pool.QueryRow(ctx, query, userID, externalID, excludeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RatedItem{}, false, nil
		}
		return domain.RatedItem{}, false, fmt.Errorf("find uncounted rating: %w", err)
	}
	return item, true, nil
}

// SetScore overwrites an item's score and state. When original is true the
// original-score snapshot is captured as well; it is written exactly once,
// when the item receives its first real score.
func (r *ItemsRepository) SetScore(ctx context.Context, id string, score float64, state domain.RatingState, original bool) error {
	query := `
        UPDATE rated_items
        SET score = $2, state = $3, updated_at = now()
        WHERE id = $1
    `
	if original {
		query = `
            UPDATE rated_items
            SET score = $2, original_score = $2, state = $3, updated_at = now()
            WHERE id = $1
        `
	}
	tag, err := r.pool.Exec(ctx, query, id, score, string(state))
	if err != nil {
		return fmt.Errorf("set score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetState moves an item through its rating lifecycle.
func (r *ItemsRepository) SetState(ctx context.Context, id string, state domain.RatingState) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rated_items SET state = $2, updated_at = now() WHERE id = $1`,
		id, string(state))
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetComparisons records how many pairwise decisions placed the item.
func (r *ItemsRepository) SetComparisons(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rated_items SET comparisons_count = $2, updated_at = now() WHERE id = $1`,
		id, count)
	if err != nil {
		return fmt.Errorf("set comparisons: %w", err)
	}
	return nil
}

// Delete removes an item by identifier.
func (r *ItemsRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rated_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (domain.RatedItem, error) {
	var (
		item     domain.RatedItem
		category string
		tier     string
		state    string
	)
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.ExternalID,
		&item.Title,
		&category,
		&tier,
		&item.Score,
		&item.OriginalScore,
		&item.ComparisonsCount,
		&item.Genres,
		&state,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.RatedItem{}, err
	}
	item.Category = domain.Category(category)
	item.Tier = domain.SentimentTier(tier)
	item.State = domain.RatingState(state)
	return item, nil
}
