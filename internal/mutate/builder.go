package mutate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// statement is a fully parameterized SQL statement. Identifiers are
// validated and values always bound; nothing from the caller is ever
// concatenated into the SQL text.
type statement struct {
	sql  string
	args []any
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("mutate: invalid identifier %q", name)
	}
	return nil
}

// sortedKeys returns column names in deterministic order so the same spec
// always produces the same statement text.
func sortedKeys(m map[string]any) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		if k == "tenant_id" {
			return nil, fmt.Errorf("mutate: tenant_id is taken from scope")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

const auditInsert = `INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, event_type, actor_id, trace_id, payload)`

func buildInsert(scope shared.Scope, spec InsertSpec, payload []byte) (statement, error) {
	if err := checkIdent(spec.Table); err != nil {
		return statement{}, err
	}
	if len(spec.Values) == 0 {
		return statement{}, errEmptySpec
	}
	keys, err := sortedKeys(spec.Values)
	if err != nil {
		return statement{}, err
	}

	var b strings.Builder
	args := []any{scope.TenantID}
	cols := []string{"tenant_id"}
	placeholders := []string{"$1"}
	for _, k := range keys {
		args = append(args, spec.Values[k])
		cols = append(cols, k)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	fmt.Fprintf(&b, "WITH entity AS (\n\tINSERT INTO %s (%s)\n\tVALUES (%s)\n\tRETURNING *\n)",
		spec.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	args = append(args, newAuditID())
	idArg := len(args)
	args = append(args, spec.EntityType)
	typeArg := len(args)
	args = append(args, spec.EventType)
	eventArg := len(args)
	args = append(args, actorParam(scope))
	actorArg := len(args)
	args = append(args, traceParam(scope))
	traceArg := len(args)
	args = append(args, payload)
	payloadArg := len(args)

	fmt.Fprintf(&b, ", record AS (\n\t%s\n\tSELECT $%d, entity.tenant_id, $%d, entity.id::text, $%d, $%d, $%d, $%d::jsonb || jsonb_build_object('entity', to_jsonb(entity))\n\tFROM entity\n)\nSELECT * FROM entity",
		auditInsert, idArg, typeArg, eventArg, actorArg, traceArg, payloadArg)

	return statement{sql: b.String(), args: args}, nil
}

func buildUpdate(scope shared.Scope, spec UpdateSpec, payload []byte) (statement, error) {
	if err := checkIdent(spec.Table); err != nil {
		return statement{}, err
	}
	if len(spec.Set) == 0 || len(spec.Where) == 0 {
		return statement{}, errEmptySpec
	}
	setKeys, err := sortedKeys(spec.Set)
	if err != nil {
		return statement{}, err
	}
	whereKeys, err := sortedKeys(spec.Where)
	if err != nil {
		return statement{}, err
	}

	args := []any{scope.TenantID}
	whereParts := []string{"tenant_id = $1"}
	for _, k := range whereKeys {
		args = append(args, spec.Where[k])
		whereParts = append(whereParts, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	where := strings.Join(whereParts, " AND ")

	setParts := make([]string, 0, len(setKeys)+1)
	for _, k := range setKeys {
		args = append(args, spec.Set[k])
		setParts = append(setParts, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	setParts = append(setParts, "updated_at = now()")

	var b strings.Builder
	fmt.Fprintf(&b, "WITH before AS (\n\tSELECT * FROM %s WHERE %s\n), entity AS (\n\tUPDATE %s SET %s\n\tWHERE %s\n\tRETURNING *\n)",
		spec.Table, where, spec.Table, strings.Join(setParts, ", "), where)

	args = append(args, newAuditID())
	idArg := len(args)
	args = append(args, spec.EntityType)
	typeArg := len(args)
	args = append(args, spec.EventType)
	eventArg := len(args)
	args = append(args, actorParam(scope))
	actorArg := len(args)
	args = append(args, traceParam(scope))
	traceArg := len(args)
	args = append(args, payload)
	payloadArg := len(args)

	fmt.Fprintf(&b, ", record AS (\n\t%s\n\tSELECT $%d, entity.tenant_id, $%d, entity.id::text, $%d, $%d, $%d, $%d::jsonb || jsonb_build_object('before', to_jsonb(before), 'after', to_jsonb(entity))\n\tFROM entity, before\n)\nSELECT * FROM entity",
		auditInsert, idArg, typeArg, eventArg, actorArg, traceArg, payloadArg)

	return statement{sql: b.String(), args: args}, nil
}
