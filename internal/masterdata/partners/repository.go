package partners

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads partners. Writes go through the mutation primitive.
type Repository interface {
	Get(ctx context.Context, scope shared.Scope, id int64) (*Partner, error)
	List(ctx context.Context, scope shared.Scope, kind *Kind, page shared.Page) ([]Partner, error)
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

const partnerCols = `id, code, name, kind, email, currency, archived, created_at, updated_at`

func (r *repository) Get(ctx context.Context, scope shared.Scope, id int64) (*Partner, error) {
	var p Partner
	err := r.q.QueryRow(ctx,
		`SELECT `+partnerCols+` FROM partners WHERE tenant_id = $1 AND id = $2`,
		scope.TenantID, id,
	).Scan(&p.ID, &p.Code, &p.Name, &p.Kind, &p.Email, &p.Currency, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) List(ctx context.Context, scope shared.Scope, kind *Kind, page shared.Page) ([]Partner, error) {
	sql := `SELECT ` + partnerCols + ` FROM partners WHERE tenant_id = $1 AND id > $2`
	args := []any{scope.TenantID, page.AfterID}
	if kind != nil {
		args = append(args, string(*kind))
		sql += ` AND kind = $3`
	}
	args = append(args, page.Limit)
	sql += fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args))

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var partners []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Kind, &p.Email, &p.Currency, &p.Archived, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
