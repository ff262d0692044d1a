package shared

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Scope carries the caller identity every core operation requires.
// TenantID is mandatory; a nil ActorID means the mutation was performed by
// the system itself (jobs, reconciliation). TraceID correlates audit records
// with the originating request.
type Scope struct {
	TenantID int64
	ActorID  *int64
	TraceID  uuid.UUID
}

// ErrMissingTenant indicates an operation was attempted without tenant scope.
var ErrMissingTenant = errors.New("tenant scope required")

// SystemScope returns a scope for background work on behalf of a tenant.
func SystemScope(tenantID int64) Scope {
	return Scope{TenantID: tenantID, TraceID: uuid.New()}
}

// Validate rejects scopes without a tenant.
func (s Scope) Validate() error {
	if s.TenantID <= 0 {
		return ErrMissingTenant
	}
	return nil
}

// Actor returns the acting user id, or 0 for the system actor.
func (s Scope) Actor() int64 {
	if s.ActorID == nil {
		return 0
	}
	return *s.ActorID
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}
