package creditnotes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository holds the credit note statements that reach across to the
// invoice row. Issue and Void return (nil, nil) when a guard let no row
// through; callers diagnose the reason with fresh reads.
type Repository interface {
	Get(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error)
	Issue(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error)
	Void(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error)
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

// issueSQL flips DRAFT -> ISSUED and reserves the amount on the invoice
// in one statement. The guarded invoice update is the serialization
// point: under row locking, concurrent issues against the same invoice
// queue on that row and each re-evaluates the cap against the committed
// credited_cents, so the sum of issued credits cannot exceed the invoice
// total.
const issueSQL = `WITH doc AS (
	SELECT c.id, c.invoice_id, c.total_cents
	FROM credit_notes c
	WHERE c.tenant_id = $1 AND c.id = $2 AND c.status = $3
		AND EXISTS (SELECT 1 FROM credit_note_lines l WHERE l.tenant_id = c.tenant_id AND l.credit_note_id = c.id)
), inv AS (
	UPDATE invoices i
	SET credited_cents = i.credited_cents + doc.total_cents, updated_at = now()
	FROM doc
	WHERE i.tenant_id = $1 AND i.id = doc.invoice_id
		AND i.status = ANY($5)
		AND i.credited_cents + doc.total_cents <= i.total_cents
	RETURNING i.id, i.total_cents, i.credited_cents
), note AS (
	UPDATE credit_notes n
	SET status = $4, issued_at = now(), updated_at = now()
	FROM inv
	WHERE n.tenant_id = $1 AND n.id = $2
	RETURNING n.id, n.doc_no, n.partner_id, n.currency, n.status, n.subtotal_cents, n.total_cents,
		n.invoice_id, n.issued_at, n.created_at, n.updated_at
), record AS (
	INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload)
	SELECT $6, $1, 'credit_note', note.id::text, 'credit_note.issued', $7, $8,
		$9::jsonb || jsonb_build_object('invoice_id', inv.id, 'invoice_credited_cents', inv.credited_cents, 'invoice_total_cents', inv.total_cents)
	FROM note, inv
)
SELECT id, doc_no, partner_id, currency, status, subtotal_cents, total_cents, invoice_id, issued_at, created_at, updated_at
FROM note`

func (r *repository) Issue(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error) {
	payload, err := audit.Marshal(audit.TransitionPayload{From: string(StatusDraft), To: string(StatusIssued)})
	if err != nil {
		return nil, err
	}
	args := []any{
		scope.TenantID, id, string(StatusDraft), string(StatusIssued),
		[]string{string(invoices.StatusIssued), string(invoices.StatusPaid)},
		uuid.NewString(), actorParam(scope), traceParam(scope), payload,
	}
	return r.scanNote(ctx, issueSQL, args)
}

// voidSQL flips ISSUED -> CANCELLED and releases the reservation on the
// invoice in the same statement. No cap check applies on the way down;
// credited_cents only ever shrinks back by amounts it previously grew by.
const voidSQL = `WITH doc AS (
	SELECT c.id, c.invoice_id, c.total_cents
	FROM credit_notes c
	WHERE c.tenant_id = $1 AND c.id = $2 AND c.status = $3
), inv AS (
	UPDATE invoices i
	SET credited_cents = i.credited_cents - doc.total_cents, updated_at = now()
	FROM doc
	WHERE i.tenant_id = $1 AND i.id = doc.invoice_id
	RETURNING i.id, i.credited_cents
), note AS (
	UPDATE credit_notes n
	SET status = $4, updated_at = now()
	FROM inv
	WHERE n.tenant_id = $1 AND n.id = $2
	RETURNING n.id, n.doc_no, n.partner_id, n.currency, n.status, n.subtotal_cents, n.total_cents,
		n.invoice_id, n.issued_at, n.created_at, n.updated_at
), record AS (
	INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload)
	SELECT $5, $1, 'credit_note', note.id::text, 'credit_note.cancelled', $6, $7,
		$8::jsonb || jsonb_build_object('invoice_id', inv.id, 'invoice_credited_cents', inv.credited_cents)
	FROM note, inv
)
SELECT id, doc_no, partner_id, currency, status, subtotal_cents, total_cents, invoice_id, issued_at, created_at, updated_at
FROM note`

func (r *repository) Void(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error) {
	payload, err := audit.Marshal(audit.TransitionPayload{From: string(StatusIssued), To: string(docflow.StatusCancelled)})
	if err != nil {
		return nil, err
	}
	args := []any{
		scope.TenantID, id, string(StatusIssued), string(docflow.StatusCancelled),
		uuid.NewString(), actorParam(scope), traceParam(scope), payload,
	}
	return r.scanNote(ctx, voidSQL, args)
}

func (r *repository) Get(ctx context.Context, scope shared.Scope, id int64) (*CreditNote, error) {
	var cn CreditNote
	err := r.q.QueryRow(ctx,
		`SELECT id, doc_no, partner_id, currency, status, subtotal_cents, total_cents, invoice_id, issued_at, created_at, updated_at
FROM credit_notes WHERE tenant_id = $1 AND id = $2`,
		scope.TenantID, id,
	).Scan(&cn.ID, &cn.DocNo, &cn.PartnerID, &cn.Currency, &cn.Status,
		&cn.SubtotalCents, &cn.TotalCents, &cn.InvoiceID, &cn.IssuedAt,
		&cn.CreatedAt, &cn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, line_no, description, qty_micros, unit_price_cents, total_cents, created_at, updated_at
FROM credit_note_lines WHERE tenant_id = $1 AND credit_note_id = $2 ORDER BY line_no ASC`,
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
		cn.Lines = append(cn.Lines, l)
	}
	return &cn, rows.Err()
}

func (r *repository) scanNote(ctx context.Context, sql string, args []any) (*CreditNote, error) {
	var cn CreditNote
	err := r.q.QueryRow(ctx, sql, args...).Scan(
		&cn.ID, &cn.DocNo, &cn.PartnerID, &cn.Currency, &cn.Status,
		&cn.SubtotalCents, &cn.TotalCents, &cn.InvoiceID, &cn.IssuedAt,
		&cn.CreatedAt, &cn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cn, nil
}

func actorParam(scope shared.Scope) any {
	if scope.ActorID == nil {
		return nil
	}
	return *scope.ActorID
}

func traceParam(scope shared.Scope) any {
	if scope.TraceID == uuid.Nil {
		return nil
	}
	return scope.TraceID
}
