package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository reads the audit trail. There is deliberately no write method
// here: records are only ever inserted by the atomic statements that mutate
// the entities they describe.
type Repository interface {
	Timeline(ctx context.Context, scope shared.Scope, entityType, entityID string, page shared.Page) ([]Record, error)
	Feed(ctx context.Context, scope shared.Scope, page shared.Page) ([]Record, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const recordColumns = `id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload, occurred_at, seq`

func (r *repository) Timeline(ctx context.Context, scope shared.Scope, entityType, entityID string, page shared.Page) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM audit_logs
WHERE tenant_id=$1 AND entity_type=$2 AND entity_id=$3 AND seq > $4
ORDER BY seq ASC LIMIT $5`, scope.TenantID, entityType, entityID, page.AfterID, page.Limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *repository) Feed(ctx context.Context, scope shared.Scope, page shared.Page) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM audit_logs
WHERE tenant_id=$1 AND seq > $2
ORDER BY seq ASC LIMIT $3`, scope.TenantID, page.AfterID, page.Limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func uuidFromBytes(b [16]byte) (u uuid.UUID) {
	copy(u[:], b[:])
	return u
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		var actorID pgtype.Int8
		var traceID pgtype.UUID
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.EntityType, &rec.EntityID, &rec.EventType,
			&actorID, &traceID, &rec.Payload, &rec.OccurredAt, &rec.Seq); err != nil {
			return nil, err
		}
		if actorID.Valid {
			rec.ActorID = &actorID.Int64
		}
		if traceID.Valid {
			id := traceID.Bytes
			u := uuidFromBytes(id)
			rec.TraceID = &u
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
