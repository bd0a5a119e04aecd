package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelrank/reelrank/internal/domain"
)

// AggregatesRepository maintains the per-content community aggregate through
// atomic read-modify-write transactions. Concurrent writers on the same
// content id serialize on a row lock; serialization failures are retried.
type AggregatesRepository struct {
	pool *pgxpool.Pool
}

const aggregateColumns = `id, total_score, rating_count, average_rating, title, category, updated_at`

// txRetries bounds retransmission of a transaction aborted by a concurrent
// writer (deadlock or serialization failure).
const txRetries = 3

// AggregateSeed carries the denormalized display fields written alongside a
// new aggregate record.
type AggregateSeed struct {
	ContentID string
	Title     string
	Category  domain.Category
}

// Get fetches the aggregate for one content id.
func (r *AggregatesRepository) Get(ctx context.Context, contentID string) (domain.CommunityAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM community_aggregates WHERE id = $1`, aggregateColumns)
	agg, err := scanAggregate(r.pool.QueryRow(ctx, query, contentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CommunityAggregate{}, ErrNotFound
		}
		return domain.CommunityAggregate{}, err
	}
	return agg, nil
}

// Add counts one new rating. A missing record is created from the single
// rating; a corrupt record is discarded and reseeded the same way.
func (r *AggregatesRepository) Add(ctx context.Context, seed AggregateSeed, score float64) (domain.CommunityAggregate, error) {
	if !finite(score) {
		return domain.CommunityAggregate{}, ErrInvalidScore
	}

	var result domain.CommunityAggregate
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		current, found, err := lockAggregate(ctx, tx, seed.ContentID)
		if err != nil {
			return err
		}

		if !found || !current.Valid() {
			result, err = writeAggregate(ctx, tx, seed, score, 1)
			return err
		}

		total := current.TotalScore + score
		count := current.RatingCount + 1
		if !finite(total) || !finite(total/float64(count)) {
			// A sum gone non-finite must not corrupt the record; rebuild
			// from the incoming rating alone.
			result, err = writeAggregate(ctx, tx, seed, score, 1)
			return err
		}
		result, err = writeAggregate(ctx, tx, seed, total, count)
		return err
	})
	return result, err
}

// Replace adjusts an existing contribution from oldScore to newScore without
// changing the count. A missing or corrupt record falls back to treating
// newScore as a fresh single rating.
func (r *AggregatesRepository) Replace(ctx context.Context, seed AggregateSeed, oldScore, newScore float64) (domain.CommunityAggregate, error) {
	if !finite(oldScore) || !finite(newScore) {
		return domain.CommunityAggregate{}, ErrInvalidScore
	}

	var result domain.CommunityAggregate
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		current, found, err := lockAggregate(ctx, tx, seed.ContentID)
		if err != nil {
			return err
		}

		if !found || !current.Valid() || current.RatingCount == 0 {
			result, err = writeAggregate(ctx, tx, seed, newScore, 1)
			return err
		}

		total := current.TotalScore + (newScore - oldScore)
		count := current.RatingCount
		if !finite(total) || !finite(total/float64(count)) {
			result, err = writeAggregate(ctx, tx, seed, newScore, 1)
			return err
		}
		result, err = writeAggregate(ctx, tx, seed, total, count)
		return err
	})
	return result, err
}

// Remove uncounts one rating. The record is deleted outright when its count
// reaches zero, and a corrupt record is deleted rather than patched.
func (r *AggregatesRepository) Remove(ctx context.Context, contentID string, score float64) error {
	if !finite(score) {
		return ErrInvalidScore
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		current, found, err := lockAggregate(ctx, tx, contentID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		count := current.RatingCount - 1
		if count <= 0 || !current.Valid() {
			_, err := tx.Exec(ctx, `DELETE FROM community_aggregates WHERE id = $1`, contentID)
			return err
		}

		total := current.TotalScore - score
		_, err = tx.Exec(ctx, `
            UPDATE community_aggregates
            SET total_score = $2, rating_count = $3, average_rating = $4, updated_at = now()
            WHERE id = $1
        `, contentID, total, count, total/float64(count))
		return err
	})
}

// inTx runs fn inside a transaction, retrying when a concurrent writer on
// the same aggregate row aborts it.
func (r *AggregatesRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin aggregate tx: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if retryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if retryable(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit aggregate tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("aggregate tx conflict after %d attempts: %w", txRetries, lastErr)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func lockAggregate(ctx context.Context, tx pgx.Tx, contentID string) (domain.CommunityAggregate, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM community_aggregates WHERE id = $1 FOR UPDATE`, aggregateColumns)
	agg, err := scanAggregate(tx.QueryRow(ctx, query, contentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CommunityAggregate{}, false, nil
		}
		return domain.CommunityAggregate{}, false, err
	}
	return agg, true, nil
}

func writeAggregate(ctx context.Context, tx pgx.Tx, seed AggregateSeed, total float64, count int64) (domain.CommunityAggregate, error) {
	query := fmt.Sprintf(`
        INSERT INTO community_aggregates (id, total_score, rating_count, average_rating, title, category)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE
        SET total_score = EXCLUDED.total_score,
            rating_count = EXCLUDED.rating_count,
            average_rating = EXCLUDED.average_rating,
            title = EXCLUDED.title,
            category = EXCLUDED.category,
            updated_at = now()
        RETURNING %s
    `, aggregateColumns)

	row := tx.QueryRow(ctx, query,
		seed.ContentID, total, count, total/float64(count), seed.Title, string(seed.Category))
	return scanAggregate(row)
}

func scanAggregate(row pgx.Row) (domain.CommunityAggregate, error) {
	var (
		agg      domain.CommunityAggregate
		category string
	)
	err := row.Scan(
		&agg.ID,
		&agg.TotalScore,
		&agg.RatingCount,
		&agg.Average,
		&agg.Title,
		&category,
		&agg.UpdatedAt,
	)
	if err != nil {
		return domain.CommunityAggregate{}, err
	}
	agg.Category = domain.Category(category)
	return agg, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
