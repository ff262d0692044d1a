// Package partners manages the customer and supplier master. Documents
// reference partners by id; a dangling or cross-tenant reference fails the
// foreign key and surfaces as an InvalidReference on "partner_id".
package partners

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Kind distinguishes customers from suppliers. A partner can be both.
type Kind string

const (
	KindCustomer Kind = "CUSTOMER"
	KindSupplier Kind = "SUPPLIER"
	KindBoth     Kind = "BOTH"
)

// Partner is a trading partner.
type Partner struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Email     string    `json:"email,omitempty"`
	Currency  string    `json:"currency"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput describes a new partner.
type CreateInput struct {
	Code     string `json:"code" validate:"required,max=24"`
	Name     string `json:"name" validate:"required,max=128"`
	Kind     Kind   `json:"kind" validate:"required,oneof=CUSTOMER SUPPLIER BOTH"`
	Email    string `json:"email" validate:"omitempty,email"`
	Currency string `json:"currency" validate:"required,len=3,uppercase"`
}

// UpdateInput carries updatable fields. Nil means unchanged; the code and
// currency are immutable once documents may reference the partner.
type UpdateInput struct {
	Name     *string `json:"name" validate:"omitempty,max=128"`
	Kind     *Kind   `json:"kind" validate:"omitempty,oneof=CUSTOMER SUPPLIER BOTH"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Archived *bool   `json:"archived"`
}

// Mutator is the slice of the mutation primitive the service needs.
type Mutator interface {
	InsertWithAudit(ctx context.Context, scope shared.Scope, spec mutate.InsertSpec) (mutate.Entity, error)
	UpdateWithAudit(ctx context.Context, scope shared.Scope, spec mutate.UpdateSpec) (mutate.Entity, error)
}

// Service implements partner CRUD.
type Service struct {
	repo     Repository
	exec     Mutator
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(repo Repository, exec Mutator) *Service {
	return &Service{repo: repo, exec: exec, validate: validator.New()}
}

// Create registers a partner.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*Partner, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	values := map[string]any{
		"code": in.Code, "name": in.Name, "kind": string(in.Kind),
		"email": in.Email, "currency": in.Currency, "archived": false,
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      "partners",
		EntityType: audit.EntityPartner,
		EventType:  "partner.created",
		Values:     values,
		Payload:    audit.SnapshotPayload{Values: map[string]any{"code": in.Code, "name": in.Name, "kind": string(in.Kind)}},
	})
	if err != nil {
		return nil, err
	}
	return fromEntity(entity)
}

// Update changes mutable fields. An absent or foreign id is ErrNotFound.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, in UpdateInput) (*Partner, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	set := map[string]any{}
	var fields []string
	if in.Name != nil {
		set["name"] = *in.Name
		fields = append(fields, "name")
	}
	if in.Kind != nil {
		set["kind"] = string(*in.Kind)
		fields = append(fields, "kind")
	}
	if in.Email != nil {
		set["email"] = *in.Email
		fields = append(fields, "email")
	}
	if in.Archived != nil {
		set["archived"] = *in.Archived
		fields = append(fields, "archived")
	}
	if len(set) == 0 {
		return s.Get(ctx, scope, id)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      "partners",
		EntityType: audit.EntityPartner,
		EventType:  "partner.updated",
		Set:        set,
		Where:      map[string]any{"id": id},
		Payload:    audit.ChangePayload{Fields: fields},
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, shared.ErrNotFound
	}
	return fromEntity(entity)
}

// Get returns one partner.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (*Partner, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// List pages through partners by id, optionally filtered by kind.
func (s *Service) List(ctx context.Context, scope shared.Scope, kind *Kind, page shared.Page) ([]Partner, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope, kind, page)
}

func fromEntity(e mutate.Entity) (*Partner, error) {
	p := Partner{ID: e.ID()}
	var ok bool
	if p.Code, ok = e["code"].(string); !ok {
		return nil, fmt.Errorf("partners: malformed row: code")
	}
	if p.Name, ok = e["name"].(string); !ok {
		return nil, fmt.Errorf("partners: malformed row: name")
	}
	if kind, ok := e["kind"].(string); ok {
		p.Kind = Kind(kind)
	}
	p.Email, _ = e["email"].(string)
	p.Currency, _ = e["currency"].(string)
	p.Archived, _ = e["archived"].(bool)
	p.CreatedAt, _ = e["created_at"].(time.Time)
	p.UpdatedAt, _ = e["updated_at"].(time.Time)
	return &p, nil
}
