package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// allocation is the raw result of one allocate/peek statement.
type allocation struct {
	Raw       int64
	Prefix    string
	Padding   int
	YearReset bool
	Year      int
}

// Repository persists sequence rows.
type Repository interface {
	// Allocate atomically advances the counter for (tenant, key) and
	// returns the allocated value. year is the caller's current calendar
	// year; a year-reset sequence whose stored year differs restarts at 1
	// inside the new year, all inside the same statement.
	Allocate(ctx context.Context, scope shared.Scope, key string, year int) (allocation, error)
	// Preview reads the value the next Allocate would return. Advisory
	// only: it holds nothing and guarantees nothing.
	Preview(ctx context.Context, scope shared.Scope, key string, year int) (allocation, error)
	Get(ctx context.Context, scope shared.Scope, key string) (Sequence, error)
	List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Sequence, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// The allocated value is derived from the post-update row (next_value - 1):
// RETURNING sees the new column values, and deriving from them keeps the
// returned number and the stored counter consistent by construction. Two
// concurrent statements against the same row are serialized by the row-level
// write lock; the second re-evaluates against the first's committed state.
const allocateSQL = `UPDATE doc_sequences SET
	next_value = CASE WHEN year_reset AND current_year <> $3 THEN 2 ELSE next_value + 1 END,
	current_year = CASE WHEN year_reset AND current_year <> $3 THEN $3 ELSE current_year END,
	updated_at = now()
WHERE tenant_id = $1 AND key = $2
RETURNING next_value - 1, prefix, padding, year_reset, current_year`

func (r *repository) Allocate(ctx context.Context, scope shared.Scope, key string, year int) (allocation, error) {
	var a allocation
	err := r.pool.QueryRow(ctx, allocateSQL, scope.TenantID, key, year).
		Scan(&a.Raw, &a.Prefix, &a.Padding, &a.YearReset, &a.Year)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return allocation{}, shared.ErrNotFound
		}
		return allocation{}, err
	}
	return a, nil
}

const previewSQL = `SELECT
	CASE WHEN year_reset AND current_year <> $3 THEN 1 ELSE next_value END,
	prefix, padding, year_reset,
	CASE WHEN year_reset THEN $3 ELSE current_year END
FROM doc_sequences WHERE tenant_id = $1 AND key = $2`

func (r *repository) Preview(ctx context.Context, scope shared.Scope, key string, year int) (allocation, error) {
	var a allocation
	err := r.pool.QueryRow(ctx, previewSQL, scope.TenantID, key, year).
		Scan(&a.Raw, &a.Prefix, &a.Padding, &a.YearReset, &a.Year)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return allocation{}, shared.ErrNotFound
		}
		return allocation{}, err
	}
	return a, nil
}

const sequenceColumns = `id, key, prefix, padding, year_reset, current_year, next_value, created_at, updated_at`

func (r *repository) Get(ctx context.Context, scope shared.Scope, key string) (Sequence, error) {
	var s Sequence
	err := r.pool.QueryRow(ctx, `SELECT `+sequenceColumns+` FROM doc_sequences WHERE tenant_id=$1 AND key=$2`,
		scope.TenantID, key).
		Scan(&s.ID, &s.Key, &s.Prefix, &s.Padding, &s.YearReset, &s.CurrentYear, &s.NextValue, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sequence{}, shared.ErrNotFound
		}
		return Sequence{}, err
	}
	return s, nil
}

func (r *repository) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sequenceColumns+` FROM doc_sequences
WHERE tenant_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`, scope.TenantID, page.AfterID, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sequences []Sequence
	for rows.Next() {
		var s Sequence
		if err := rows.Scan(&s.ID, &s.Key, &s.Prefix, &s.Padding, &s.YearReset, &s.CurrentYear, &s.NextValue, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sequences = append(sequences, s)
	}
	return sequences, rows.Err()
}
