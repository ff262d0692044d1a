// Package mutate implements the atomic mutation primitive: an entity write
// and its audit record inserted by one SQL statement, so neither can exist
// without the other. The deployment target cannot hold transactions across
// round trips, which makes single-statement atomicity the only correctness
// mechanism available; every statement here is a chain of data-modifying
// CTEs.
package mutate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Entity is a generic entity row returned by the primitive, keyed by column
// name. Callers map it onto their own types.
type Entity map[string]any

// ID returns the row's bigint primary key, or 0 when absent.
func (e Entity) ID() int64 {
	id, _ := e["id"].(int64)
	return id
}

// Querier is the subset of pgxpool.Pool the primitive needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor performs audited entity mutations.
type Executor struct {
	q Querier
}

// NewExecutor constructs an executor bound to the pool.
func NewExecutor(pool *pgxpool.Pool) *Executor {
	return &Executor{q: pool}
}

// InsertSpec describes an audited insert.
type InsertSpec struct {
	Table      string
	EntityType string
	EventType  string
	Values     map[string]any
	Payload    audit.Payload
}

// UpdateSpec describes an audited, guarded update. Where holds equality
// filters in addition to the tenant filter the primitive always applies.
type UpdateSpec struct {
	Table      string
	EntityType string
	EventType  string
	Set        map[string]any
	Where      map[string]any
	Payload    audit.Payload
}

// InsertWithAudit inserts the entity and exactly one audit record as a
// single statement. The tenant id from scope is forced into the row.
// Unique and foreign-key violations come back classified as domain errors.
func (e *Executor) InsertWithAudit(ctx context.Context, scope shared.Scope, spec InsertSpec) (Entity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	payload, err := audit.Marshal(spec.Payload)
	if err != nil {
		return nil, err
	}
	stmt, err := buildInsert(scope, spec, payload)
	if err != nil {
		return nil, err
	}
	entity, err := e.queryOne(ctx, stmt)
	if err != nil {
		return nil, classify(spec.Table, spec.EntityType, err)
	}
	return entity, nil
}

// UpdateWithAudit updates the entity and inserts exactly one audit record as
// a single statement. When the filter matches zero rows nothing anywhere is
// written and the call returns (nil, nil): guard failure is an expected
// outcome, not an error, and the caller re-queries for a precise diagnosis.
func (e *Executor) UpdateWithAudit(ctx context.Context, scope shared.Scope, spec UpdateSpec) (Entity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	payload, err := audit.Marshal(spec.Payload)
	if err != nil {
		return nil, err
	}
	stmt, err := buildUpdate(scope, spec, payload)
	if err != nil {
		return nil, err
	}
	entity, err := e.queryOne(ctx, stmt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(spec.Table, spec.EntityType, err)
	}
	return entity, nil
}

func (e *Executor) queryOne(ctx context.Context, stmt statement) (Entity, error) {
	rows, err := e.q.Query(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	entity := make(Entity, len(fields))
	for i, fd := range fields {
		entity[fd.Name] = normalizeValue(values[i])
	}
	return entity, rows.Err()
}

// normalizeValue widens small integer types so Entity lookups behave
// uniformly regardless of the column's declared width.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}

func newAuditID() string {
	return uuid.NewString()
}

func traceParam(scope shared.Scope) any {
	if scope.TraceID == uuid.Nil {
		return nil
	}
	return scope.TraceID
}

func actorParam(scope shared.Scope) any {
	if scope.ActorID == nil {
		return nil
	}
	return *scope.ActorID
}

var errEmptySpec = fmt.Errorf("mutate: empty column set")
