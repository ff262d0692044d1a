package docflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is the subset of pgxpool.Pool the engine needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// API is the engine surface family services depend on. Tests substitute an
// in-memory implementation (see docflowtest).
type API interface {
	UpsertLine(ctx context.Context, scope shared.Scope, fam Family, in UpsertLineInput) (*LineResult, error)
	RemoveLine(ctx context.Context, scope shared.Scope, fam Family, docID, lineNo int64) (*LineResult, error)
	Transition(ctx context.Context, scope shared.Scope, fam Family, in TransitionInput) (*Header, error)
	CreateFromPredecessor(ctx context.Context, scope shared.Scope, fam Family, in ConvertInput) (*Header, error)
	Get(ctx context.Context, scope shared.Scope, fam Family, docID int64) (*Document, error)
	List(ctx context.Context, scope shared.Scope, fam Family, filter ListFilter, page shared.Page) ([]Header, error)
}

// Engine executes the line-aggregate statements against Postgres.
type Engine struct {
	q Querier
}

// NewEngine constructs the engine over a pool.
func NewEngine(q Querier) *Engine {
	return &Engine{q: q}
}

var _ API = (*Engine)(nil)

const headerCols = `d.id, d.doc_no, d.partner_id, d.currency, d.status, d.subtotal_cents, d.total_cents, d.created_at, d.updated_at`

const auditCTE = `INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload)`

// UpsertLine writes one line and moves the parent aggregate by the line's
// delta in the same statement. The header update reads its own current
// column values and the replaced line's total comes from a locked read, so
// the totals stay correct when concurrent writers touch other lines of the
// same document under read committed. Returns (nil, nil) when the parent is
// absent, foreign, or not in the mutable state.
func (e *Engine) UpsertLine(ctx context.Context, scope shared.Scope, fam Family, in UpsertLineInput) (*LineResult, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	if in.QtyMicros <= 0 {
		return nil, fmt.Errorf("docflow: quantity must be positive")
	}
	if in.UnitPriceCents < 0 {
		return nil, fmt.Errorf("docflow: unit price must not be negative")
	}
	totalCents := shared.LineTotalCents(in.QtyMicros, in.UnitPriceCents)
	payload, err := audit.Marshal(audit.LinePayload{
		LineNo:         in.LineNo,
		Description:    in.Description,
		QuantityMicros: in.QtyMicros,
		UnitPriceCents: in.UnitPriceCents,
		TotalCents:     totalCents,
	})
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`WITH doc AS (
	SELECT id, tenant_id FROM %[1]s
	WHERE tenant_id = $1 AND id = $2 AND status = $3
), target AS (
	SELECT COALESCE($4::bigint, (SELECT COALESCE(MAX(l.line_no), 0) + 1 FROM %[2]s l WHERE l.tenant_id = doc.tenant_id AND l.%[3]s = doc.id)) AS line_no
	FROM doc
), prior AS (
	SELECT l.total_cents FROM %[2]s l, target
	WHERE l.tenant_id = $1 AND l.%[3]s = $2 AND l.line_no = target.line_no
	FOR UPDATE OF l
), line AS (
	INSERT INTO %[2]s (tenant_id, %[3]s, line_no, description, qty_micros, unit_price_cents, total_cents)
	SELECT doc.tenant_id, doc.id, target.line_no, $5, $6, $7, $8
	FROM doc, target
	ON CONFLICT (tenant_id, %[3]s, line_no) DO UPDATE SET
		description = EXCLUDED.description,
		qty_micros = EXCLUDED.qty_micros,
		unit_price_cents = EXCLUDED.unit_price_cents,
		total_cents = EXCLUDED.total_cents,
		updated_at = now()
	RETURNING id, line_no, total_cents
), header AS (
	UPDATE %[1]s d SET
		subtotal_cents = d.subtotal_cents + line.total_cents - COALESCE((SELECT total_cents FROM prior), 0),
		total_cents = d.total_cents + line.total_cents - COALESCE((SELECT total_cents FROM prior), 0),
		updated_at = now()
	FROM line
	WHERE d.tenant_id = $1 AND d.id = $2
	RETURNING %[4]s
), record AS (
	%[5]s
	SELECT $9, $1, $10, header.id::text, $11, $12, $13,
		$14::jsonb || jsonb_build_object('line_no', line.line_no, 'doc_total_cents', header.total_cents)
	FROM header, line
)
SELECT header.id, header.doc_no, header.partner_id, header.currency, header.status,
	header.subtotal_cents, header.total_cents, header.created_at, header.updated_at,
	line.id, line.line_no
FROM header, line`, fam.Table, fam.LineTable, fam.FK, headerCols, auditCTE)

	args := []any{
		scope.TenantID, in.DocID, string(fam.Mutable),
		in.LineNo, in.Description, in.QtyMicros, in.UnitPriceCents, totalCents,
		uuid.NewString(), fam.Entity, fam.Entity + ".line_upserted", actorParam(scope), traceParam(scope), payload,
	}

	var res LineResult
	err = e.q.QueryRow(ctx, sql, args...).Scan(
		&res.Header.ID, &res.Header.DocNo, &res.Header.PartnerID, &res.Header.Currency, &res.Header.Status,
		&res.Header.SubtotalCents, &res.Header.TotalCents, &res.Header.CreatedAt, &res.Header.UpdatedAt,
		&res.LineID, &res.LineNo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// RemoveLine deletes one line and subtracts the deleted row's total from
// the parent aggregate, reading both from their current versions. Guard failure
// and "line not found" both return (nil, nil); the primitive does not
// distinguish them.
func (e *Engine) RemoveLine(ctx context.Context, scope shared.Scope, fam Family, docID, lineNo int64) (*LineResult, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	payload, err := audit.Marshal(audit.LinePayload{LineNo: &lineNo, Removed: true})
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`WITH doc AS (
	SELECT id, tenant_id FROM %[1]s
	WHERE tenant_id = $1 AND id = $2 AND status = $3
), line AS (
	DELETE FROM %[2]s l USING doc
	WHERE l.tenant_id = doc.tenant_id AND l.%[3]s = doc.id AND l.line_no = $4
	RETURNING l.id, l.line_no, l.total_cents
), header AS (
	UPDATE %[1]s d SET
		subtotal_cents = d.subtotal_cents - line.total_cents,
		total_cents = d.total_cents - line.total_cents,
		updated_at = now()
	FROM line
	WHERE d.tenant_id = $1 AND d.id = $2
	RETURNING %[4]s
), record AS (
	%[5]s
	SELECT $5, $1, $6, header.id::text, $7, $8, $9,
		$10::jsonb || jsonb_build_object('doc_total_cents', header.total_cents)
	FROM header, line
)
SELECT header.id, header.doc_no, header.partner_id, header.currency, header.status,
	header.subtotal_cents, header.total_cents, header.created_at, header.updated_at,
	line.id, line.line_no
FROM header, line`, fam.Table, fam.LineTable, fam.FK, headerCols, auditCTE)

	args := []any{
		scope.TenantID, docID, string(fam.Mutable), lineNo,
		uuid.NewString(), fam.Entity, fam.Entity + ".line_removed", actorParam(scope), traceParam(scope), payload,
	}

	var res LineResult
	err = e.q.QueryRow(ctx, sql, args...).Scan(
		&res.Header.ID, &res.Header.DocNo, &res.Header.PartnerID, &res.Header.Currency, &res.Header.Status,
		&res.Header.SubtotalCents, &res.Header.TotalCents, &res.Header.CreatedAt, &res.Header.UpdatedAt,
		&res.LineID, &res.LineNo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// Transition flips the document status when the current status and the
// optional line-count guard hold, writing any family-specific columns in
// the same statement. Returns (nil, nil) on guard failure.
func (e *Engine) Transition(ctx context.Context, scope shared.Scope, fam Family, in TransitionInput) (*Header, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	if len(in.From) == 0 {
		return nil, fmt.Errorf("docflow: transition needs at least one source status")
	}
	if !fam.has(in.To) {
		return nil, fmt.Errorf("docflow: status %s not in %s vocabulary", in.To, fam.Entity)
	}
	for _, s := range in.From {
		if !fam.has(s) {
			return nil, fmt.Errorf("docflow: status %s not in %s vocabulary", s, fam.Entity)
		}
	}
	payload, err := audit.Marshal(audit.TransitionPayload{To: string(in.To)})
	if err != nil {
		return nil, err
	}

	from := make([]string, len(in.From))
	for i, s := range in.From {
		from[i] = string(s)
	}

	args := []any{scope.TenantID, in.DocID, string(in.To), from, in.RequireLines}
	setParts := []string{"status = $3", "updated_at = now()"}
	for _, col := range sortedColumns(in.Set) {
		if !identRe.MatchString(col) {
			return nil, fmt.Errorf("docflow: invalid column %q", col)
		}
		args = append(args, in.Set[col])
		setParts = append(setParts, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	auditArgs := make([]int, 6)
	for i, v := range []any{uuid.NewString(), fam.Entity, fam.Entity + "." + eventForStatus(in.To), actorParam(scope), traceParam(scope), payload} {
		args = append(args, v)
		auditArgs[i] = len(args)
	}

	sql := fmt.Sprintf(`WITH before AS (
	SELECT status FROM %[1]s WHERE tenant_id = $1 AND id = $2
), header AS (
	UPDATE %[1]s d SET %[6]s
	WHERE d.tenant_id = $1 AND d.id = $2 AND d.status = ANY($4)
		AND ($5::bool IS FALSE OR EXISTS (SELECT 1 FROM %[2]s l WHERE l.tenant_id = d.tenant_id AND l.%[3]s = d.id))
	RETURNING %[4]s
), record AS (
	%[5]s
	SELECT $%[7]d, $1, $%[8]d, header.id::text, $%[9]d, $%[10]d, $%[11]d,
		$%[12]d::jsonb || jsonb_build_object('from', before.status)
	FROM header, before
)
SELECT header.id, header.doc_no, header.partner_id, header.currency, header.status,
	header.subtotal_cents, header.total_cents, header.created_at, header.updated_at
FROM header`, fam.Table, fam.LineTable, fam.FK, headerCols, auditCTE,
		strings.Join(setParts, ", "),
		auditArgs[0], auditArgs[1], auditArgs[2], auditArgs[3], auditArgs[4], auditArgs[5])

	return e.scanHeader(ctx, sql, args)
}

// CreateFromPredecessor builds a new document from a qualifying predecessor,
// copying every line with its number, in one statement. Returns (nil, nil)
// when the predecessor is absent, foreign, in the wrong state, or empty.
func (e *Engine) CreateFromPredecessor(ctx context.Context, scope shared.Scope, fam Family, in ConvertInput) (*Header, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	if err := in.From.Validate(); err != nil {
		return nil, err
	}
	if !identRe.MatchString(in.SourceFK) {
		return nil, fmt.Errorf("docflow: invalid source column %q", in.SourceFK)
	}
	payload, err := audit.Marshal(audit.ConversionPayload{SourceType: in.From.Entity, SourceID: in.PredecessorID})
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`WITH pred AS (
	SELECT p.id, p.tenant_id, p.partner_id, p.currency, p.subtotal_cents, p.total_cents
	FROM %[6]s p
	WHERE p.tenant_id = $1 AND p.id = $2 AND p.status = $3
		AND EXISTS (SELECT 1 FROM %[7]s l WHERE l.tenant_id = p.tenant_id AND l.%[8]s = p.id)
), header AS (
	INSERT INTO %[1]s (tenant_id, doc_no, partner_id, currency, status, subtotal_cents, total_cents, %[9]s)
	SELECT pred.tenant_id, $4, pred.partner_id, pred.currency, $5, pred.subtotal_cents, pred.total_cents, pred.id
	FROM pred
	RETURNING %[4]s
), copied AS (
	INSERT INTO %[2]s (tenant_id, %[3]s, line_no, description, qty_micros, unit_price_cents, total_cents)
	SELECT $1, header.id, l.line_no, l.description, l.qty_micros, l.unit_price_cents, l.total_cents
	FROM header, %[7]s l
	WHERE l.tenant_id = $1 AND l.%[8]s = $2
	RETURNING 1
), record AS (
	%[5]s
	SELECT $6, $1, $7, header.id::text, $8, $9, $10,
		$11::jsonb || jsonb_build_object('lines_copied', (SELECT count(*) FROM copied))
	FROM header
)
SELECT header.id, header.doc_no, header.partner_id, header.currency, header.status,
	header.subtotal_cents, header.total_cents, header.created_at, header.updated_at
FROM header`, fam.Table, fam.LineTable, fam.FK, headerCols, auditCTE,
		in.From.Table, in.From.LineTable, in.From.FK, in.SourceFK)

	args := []any{
		scope.TenantID, in.PredecessorID, string(in.RequiredStatus), in.DocNo, string(in.NewState),
		uuid.NewString(), fam.Entity, fam.Entity + ".created_from_" + in.From.Entity, actorParam(scope), traceParam(scope), payload,
	}
	return e.scanHeader(ctx, sql, args)
}

// Get reads a document with its lines. Absent and foreign are both
// ErrNotFound.
func (e *Engine) Get(ctx context.Context, scope shared.Scope, fam Family, docID int64) (*Document, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	var doc Document
	sql := fmt.Sprintf(`SELECT %s FROM %s d WHERE d.tenant_id = $1 AND d.id = $2`, headerCols, fam.Table)
	err := e.q.QueryRow(ctx, sql, scope.TenantID, docID).Scan(
		&doc.ID, &doc.DocNo, &doc.PartnerID, &doc.Currency, &doc.Status,
		&doc.SubtotalCents, &doc.TotalCents, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	lineSQL := fmt.Sprintf(`SELECT id, line_no, description, qty_micros, unit_price_cents, total_cents, created_at, updated_at
FROM %s WHERE tenant_id = $1 AND %s = $2 ORDER BY line_no ASC`, fam.LineTable, fam.FK)
	rows, err := e.q.Query(ctx, lineSQL, scope.TenantID, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.Description, &l.QtyMicros, &l.UnitPriceCents, &l.TotalCents, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns headers ordered by id, cursor-paginated.
func (e *Engine) List(ctx context.Context, scope shared.Scope, fam Family, filter ListFilter, page shared.Page) ([]Header, error) {
	if err := begin(scope, fam); err != nil {
		return nil, err
	}
	conditions := []string{"d.tenant_id = $1", "d.id > $2"}
	args := []any{scope.TenantID, page.AfterID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("d.doc_no ILIKE $%d", len(args)))
	}
	args = append(args, page.Limit)
	sql := fmt.Sprintf(`SELECT %s FROM %s d WHERE %s ORDER BY d.id ASC LIMIT $%d`,
		headerCols, fam.Table, strings.Join(conditions, " AND "), len(args))

	rows, err := e.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var headers []Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.ID, &h.DocNo, &h.PartnerID, &h.Currency, &h.Status,
			&h.SubtotalCents, &h.TotalCents, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

func (e *Engine) scanHeader(ctx context.Context, sql string, args []any) (*Header, error) {
	var h Header
	err := e.q.QueryRow(ctx, sql, args...).Scan(
		&h.ID, &h.DocNo, &h.PartnerID, &h.Currency, &h.Status,
		&h.SubtotalCents, &h.TotalCents, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func begin(scope shared.Scope, fam Family) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return fam.Validate()
}

func sortedColumns(m map[string]any) []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// eventForStatus derives the audit event suffix from the target status.
func eventForStatus(s Status) string {
	return strings.ToLower(string(s))
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
