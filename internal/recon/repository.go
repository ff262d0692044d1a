// Package recon detects issued documents whose ledger posting never
// landed and re-drives the posting. Issue and Cancel write the document
// row and the ledger entry in separate statements, so a crash between the
// two leaves drift the scan repairs.
package recon

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Finding is an issued document with no matching ledger entry.
type Finding struct {
	DocID int64
	DocNo string
}

// Repository locates drift between issued documents and the ledger.
type Repository interface {
	Tenants(ctx context.Context) ([]int64, error)
	UnpostedInvoices(ctx context.Context, tenantID int64, issuedBefore time.Time) ([]Finding, error)
	UnpostedCreditNotes(ctx context.Context, tenantID int64, issuedBefore time.Time) ([]Finding, error)
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

func (r *repository) Tenants(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM tenants ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// The grace window keeps the scan off documents whose posting is still
// in flight on the request path.
const unpostedInvoicesSQL = `SELECT i.id, i.doc_no
FROM invoices i
WHERE i.tenant_id = $1 AND i.status IN ('ISSUED', 'PAID') AND i.issued_at < $2
	AND NOT EXISTS (
		SELECT 1 FROM ledger_entries e
		WHERE e.tenant_id = i.tenant_id AND e.source_type = 'invoice'
			AND e.source_id = i.id AND e.event_type = 'invoice_issued'
	)
ORDER BY i.id ASC`

func (r *repository) UnpostedInvoices(ctx context.Context, tenantID int64, issuedBefore time.Time) ([]Finding, error) {
	return r.findings(ctx, unpostedInvoicesSQL, tenantID, issuedBefore)
}

const unpostedCreditNotesSQL = `SELECT c.id, c.doc_no
FROM credit_notes c
WHERE c.tenant_id = $1 AND c.status = 'ISSUED' AND c.issued_at < $2
	AND NOT EXISTS (
		SELECT 1 FROM ledger_entries e
		WHERE e.tenant_id = c.tenant_id AND e.source_type = 'credit_note'
			AND e.source_id = c.id AND e.event_type = 'credit_note_issued'
	)
ORDER BY c.id ASC`

func (r *repository) UnpostedCreditNotes(ctx context.Context, tenantID int64, issuedBefore time.Time) ([]Finding, error) {
	return r.findings(ctx, unpostedCreditNotesSQL, tenantID, issuedBefore)
}

func (r *repository) findings(ctx context.Context, sql string, tenantID int64, issuedBefore time.Time) ([]Finding, error) {
	rows, err := r.q.Query(ctx, sql, tenantID, issuedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.DocID, &f.DocNo); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
