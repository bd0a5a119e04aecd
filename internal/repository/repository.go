package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelrank/reelrank/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidScore indicates a NaN or infinite score was rejected before
// reaching the store.
var ErrInvalidScore = errors.New("repository: invalid score")

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Items      *ItemsRepository
	Aggregates *AggregatesRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Items:      &ItemsRepository{pool: pool},
		Aggregates: &AggregatesRepository{pool: pool},
	}
}
