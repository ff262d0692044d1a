package invoices

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads invoices with their billing columns.
type Repository interface {
	Get(ctx context.Context, scope shared.Scope, id int64) (*Invoice, error)
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

func (r *repository) Get(ctx context.Context, scope shared.Scope, id int64) (*Invoice, error) {
	var inv Invoice
	err := r.q.QueryRow(ctx,
		`SELECT id, doc_no, partner_id, currency, status, subtotal_cents, total_cents,
	credited_cents, issued_at, paid_at, order_id, created_at, updated_at
FROM invoices WHERE tenant_id = $1 AND id = $2`,
		scope.TenantID, id,
	).Scan(&inv.ID, &inv.DocNo, &inv.PartnerID, &inv.Currency, &inv.Status,
		&inv.SubtotalCents, &inv.TotalCents,
		&inv.CreditedCents, &inv.IssuedAt, &inv.PaidAt, &inv.OrderID,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, line_no, description, qty_micros, unit_price_cents, total_cents, created_at, updated_at
FROM invoice_lines WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY line_no ASC`,
		scope.TenantID, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l docflow.Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.Description, &l.QtyMicros, &l.UnitPriceCents, &l.TotalCents, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return &inv, rows.Err()
}
