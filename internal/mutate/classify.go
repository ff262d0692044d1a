package mutate

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Postgres error codes the primitive reclassifies. Anything else propagates
// unchanged.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func classify(table, entityType string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return &shared.ConflictError{Entity: entityType, Field: fieldFromConstraint(table, pgErr.ConstraintName)}
	case pgForeignKeyViolation:
		return &shared.ReferenceError{Entity: entityType, Field: fieldFromConstraint(table, pgErr.ConstraintName)}
	default:
		return err
	}
}

// fieldFromConstraint recovers the offending column from a conventional
// constraint name: <table>_<columns>_key / _fkey / _idx, with the implicit
// tenant_id prefix stripped. Falls back to the raw constraint name.
func fieldFromConstraint(table, constraint string) string {
	name := constraint
	name = strings.TrimPrefix(name, table+"_")
	for _, suffix := range []string{"_key", "_fkey", "_idx"} {
		name = strings.TrimSuffix(name, suffix)
	}
	name = strings.TrimPrefix(name, "tenant_id_")
	if name == "" {
		return constraint
	}
	return name
}
