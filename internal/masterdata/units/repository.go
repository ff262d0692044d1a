package units

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads units. Writes go through the mutation primitive.
type Repository interface {
	Get(ctx context.Context, scope shared.Scope, id int64) (*Unit, error)
	List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Unit, error)
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

const unitCols = `id, code, name, archived, created_at, updated_at`

func (r *repository) Get(ctx context.Context, scope shared.Scope, id int64) (*Unit, error) {
	var u Unit
	err := r.q.QueryRow(ctx,
		`SELECT `+unitCols+` FROM units WHERE tenant_id = $1 AND id = $2`,
		scope.TenantID, id,
	).Scan(&u.ID, &u.Code, &u.Name, &u.Archived, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Unit, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+unitCols+` FROM units WHERE tenant_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		scope.TenantID, page.AfterID, page.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name, &u.Archived, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
