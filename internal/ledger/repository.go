package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository persists journal entries.
type Repository interface {
	Post(ctx context.Context, scope shared.Scope, entry postRecord) (*Entry, error)
	Get(ctx context.Context, scope shared.Scope, id int64) (*Entry, error)
	ForSource(ctx context.Context, scope shared.Scope, sourceType string, sourceID int64) ([]Entry, error)
	List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Entry, error)
}

// postRecord is the validated, numbered entry the service hands down.
type postRecord struct {
	EntryNo    string
	SourceType string
	SourceID   int64
	EventType  string
	Memo       string
	ReversalOf *int64
	Lines      []LineInput
	AuditID    uuid.UUID
	ActorID    any
	TraceID    any
	Payload    []byte
}

type repository struct {
	q Querier
}

// NewRepository constructs the Postgres repository.
func NewRepository(q Querier) Repository {
	return &repository{q: q}
}

// postSQL writes the header, all lines and the audit record in one
// statement. Lines arrive as parallel arrays; WITH ORDINALITY numbers them
// in input order. The unique index on (tenant_id, source_type, source_id,
// event_type) turns a duplicate post into a constraint error, which the
// classifier maps to ErrAlreadyPosted.
const postSQL = `WITH entry AS (
	INSERT INTO ledger_entries (tenant_id, entry_no, source_type, source_id, event_type, memo, reversal_of)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, entry_no, source_type, source_id, event_type, memo, reversal_of, posted_at
), lines AS (
	INSERT INTO ledger_lines (tenant_id, entry_id, line_no, account_code, direction, amount_cents)
	SELECT $1, entry.id, u.ord, u.account_code, u.direction, u.amount_cents
	FROM entry, unnest($8::text[], $9::text[], $10::bigint[]) WITH ORDINALITY AS u(account_code, direction, amount_cents, ord)
	RETURNING 1
), record AS (
	INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload)
	SELECT $11, $1, 'ledger_entry', entry.id::text, $5, $12, $13, $14::jsonb
	FROM entry
)
SELECT entry.id, entry.entry_no, entry.source_type, entry.source_id, entry.event_type, entry.memo, entry.reversal_of, entry.posted_at,
	(SELECT count(*) FROM lines)
FROM entry`

func (r *repository) Post(ctx context.Context, scope shared.Scope, rec postRecord) (*Entry, error) {
	accounts := make([]string, len(rec.Lines))
	directions := make([]string, len(rec.Lines))
	amounts := make([]int64, len(rec.Lines))
	for i, l := range rec.Lines {
		accounts[i] = l.AccountCode
		directions[i] = string(l.Direction)
		amounts[i] = l.AmountCents
	}

	var (
		e        Entry
		reversal *int64
		written  int64
	)
	err := r.q.QueryRow(ctx, postSQL,
		scope.TenantID, rec.EntryNo, rec.SourceType, rec.SourceID, rec.EventType, rec.Memo, rec.ReversalOf,
		accounts, directions, amounts,
		rec.AuditID, rec.ActorID, rec.TraceID, rec.Payload,
	).Scan(&e.ID, &e.EntryNo, &e.SourceType, &e.SourceID, &e.EventType, &e.Memo, &reversal, &e.PostedAt, &written)
	if err != nil {
		return nil, classify(err)
	}
	e.ReversalOf = reversal
	for i, l := range rec.Lines {
		e.Lines = append(e.Lines, Line{LineNo: int64(i + 1), AccountCode: l.AccountCode, Direction: l.Direction, AmountCents: l.AmountCents})
	}
	return &e, nil
}

const entryCols = `e.id, e.entry_no, e.source_type, e.source_id, e.event_type, e.memo, e.reversal_of, e.posted_at`

func (r *repository) Get(ctx context.Context, scope shared.Scope, id int64) (*Entry, error) {
	var e Entry
	err := r.q.QueryRow(ctx,
		`SELECT `+entryCols+` FROM ledger_entries e WHERE e.tenant_id = $1 AND e.id = $2`,
		scope.TenantID, id,
	).Scan(&e.ID, &e.EntryNo, &e.SourceType, &e.SourceID, &e.EventType, &e.Memo, &e.ReversalOf, &e.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, line_no, account_code, direction, amount_cents
FROM ledger_lines WHERE tenant_id = $1 AND entry_id = $2 ORDER BY line_no ASC`,
		scope.TenantID, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.AccountCode, &l.Direction, &l.AmountCents); err != nil {
			return nil, err
		}
		e.Lines = append(e.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) ForSource(ctx context.Context, scope shared.Scope, sourceType string, sourceID int64) ([]Entry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+entryCols+` FROM ledger_entries e
WHERE e.tenant_id = $1 AND e.source_type = $2 AND e.source_id = $3 ORDER BY e.id ASC`,
		scope.TenantID, sourceType, sourceID,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (r *repository) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Entry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+entryCols+` FROM ledger_entries e
WHERE e.tenant_id = $1 AND e.id > $2 ORDER BY e.id ASC LIMIT $3`,
		scope.TenantID, page.AfterID, page.Limit,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EntryNo, &e.SourceType, &e.SourceID, &e.EventType, &e.Memo, &e.ReversalOf, &e.PostedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// classify maps constraint failures to the domain errors callers branch on.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if strings.Contains(pgErr.ConstraintName, "source") {
			return shared.ErrAlreadyPosted
		}
		return &shared.ConflictError{Entity: "ledger_entry", Field: pgErr.ConstraintName}
	case "23503":
		return &shared.ReferenceError{Entity: "ledger_entry", Field: pgErr.ConstraintName}
	}
	return err
}
