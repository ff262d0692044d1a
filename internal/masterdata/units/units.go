// Package units manages the unit-of-measure master. Writes go through the
// audited mutation primitive; code uniqueness is enforced per tenant by the
// database and surfaces as a Conflict on "code".
package units

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Unit is a unit of measure.
type Unit struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput describes a new unit.
type CreateInput struct {
	Code string `json:"code" validate:"required,max=16"`
	Name string `json:"name" validate:"required,max=64"`
}

// UpdateInput carries updatable fields. Nil means unchanged.
type UpdateInput struct {
	Name     *string `json:"name" validate:"omitempty,max=64"`
	Archived *bool   `json:"archived"`
}

// Mutator is the slice of the mutation primitive the service needs.
type Mutator interface {
	InsertWithAudit(ctx context.Context, scope shared.Scope, spec mutate.InsertSpec) (mutate.Entity, error)
	UpdateWithAudit(ctx context.Context, scope shared.Scope, spec mutate.UpdateSpec) (mutate.Entity, error)
}

// Service implements unit CRUD.
type Service struct {
	repo     Repository
	exec     Mutator
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(repo Repository, exec Mutator) *Service {
	return &Service{repo: repo, exec: exec, validate: validator.New()}
}

// Create registers a unit.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*Unit, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      "units",
		EntityType: audit.EntityUnit,
		EventType:  "unit.created",
		Values:     map[string]any{"code": in.Code, "name": in.Name, "archived": false},
		Payload:    audit.SnapshotPayload{Values: map[string]any{"code": in.Code, "name": in.Name}},
	})
	if err != nil {
		return nil, err
	}
	return fromEntity(entity)
}

// Update changes name or archival state. An absent or foreign id is
// ErrNotFound.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, in UpdateInput) (*Unit, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	set := map[string]any{}
	var fields []string
	if in.Name != nil {
		set["name"] = *in.Name
		fields = append(fields, "name")
	}
	if in.Archived != nil {
		set["archived"] = *in.Archived
		fields = append(fields, "archived")
	}
	if len(set) == 0 {
		return s.Get(ctx, scope, id)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      "units",
		EntityType: audit.EntityUnit,
		EventType:  "unit.updated",
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

// Get returns one unit.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (*Unit, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// List pages through units by id.
func (s *Service) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Unit, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope, page)
}

func fromEntity(e mutate.Entity) (*Unit, error) {
	u := Unit{ID: e.ID()}
	var ok bool
	if u.Code, ok = e["code"].(string); !ok {
		return nil, fmt.Errorf("units: malformed row: code")
	}
	if u.Name, ok = e["name"].(string); !ok {
		return nil, fmt.Errorf("units: malformed row: name")
	}
	u.Archived, _ = e["archived"].(bool)
	u.CreatedAt, _ = e["created_at"].(time.Time)
	u.UpdatedAt, _ = e["updated_at"].(time.Time)
	return &u, nil
}
