package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service formats allocations and manages sequence rows. Administrative
// create/update go through the audited mutation primitive; the hot-path
// allocation is its own self-contained atomic statement.
type Service struct {
	repo Repository
	exec *mutate.Executor
	now  func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, exec *mutate.Executor) *Service {
	return &Service{repo: repo, exec: exec, now: time.Now}
}

// Next allocates the next number for (tenant, key).
func (s *Service) Next(ctx context.Context, scope shared.Scope, key string) (Allocation, error) {
	if err := scope.Validate(); err != nil {
		return Allocation{}, err
	}
	a, err := s.repo.Allocate(ctx, scope, key, s.now().UTC().Year())
	if err != nil {
		return Allocation{}, fmt.Errorf("sequence %s: %w", key, err)
	}
	return Allocation{Raw: a.Raw, Formatted: format(a)}, nil
}

// Peek previews the next number without advancing the counter. The preview
// must never be treated as a reservation.
func (s *Service) Peek(ctx context.Context, scope shared.Scope, key string) (Allocation, error) {
	if err := scope.Validate(); err != nil {
		return Allocation{}, err
	}
	a, err := s.repo.Preview(ctx, scope, key, s.now().UTC().Year())
	if err != nil {
		return Allocation{}, fmt.Errorf("sequence %s: %w", key, err)
	}
	return Allocation{Raw: a.Raw, Formatted: format(a)}, nil
}

// CreateInput describes a new sequence.
type CreateInput struct {
	Key       string `json:"key" validate:"required,max=40"`
	Prefix    string `json:"prefix" validate:"max=12"`
	Padding   int    `json:"padding" validate:"gte=0,lte=12"`
	YearReset bool   `json:"year_reset"`
}

// Create registers a sequence starting at 1, audited.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (Sequence, error) {
	values := map[string]any{
		"key":          in.Key,
		"prefix":       in.Prefix,
		"padding":      in.Padding,
		"year_reset":   in.YearReset,
		"current_year": s.now().UTC().Year(),
		"next_value":   int64(1),
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      "doc_sequences",
		EntityType: audit.EntitySequence,
		EventType:  "sequence.created",
		Values:     values,
		Payload:    audit.SnapshotPayload{Values: values},
	})
	if err != nil {
		return Sequence{}, err
	}
	return sequenceFromEntity(entity), nil
}

// UpdateInput carries the mutable formatting fields. Counter state is never
// editable after creation.
type UpdateInput struct {
	Prefix  *string `json:"prefix,omitempty" validate:"omitempty,max=12"`
	Padding *int    `json:"padding,omitempty" validate:"omitempty,gte=0,lte=12"`
}

// Update changes prefix/padding, audited. Returns ErrNotFound when the
// sequence does not exist for this tenant.
func (s *Service) Update(ctx context.Context, scope shared.Scope, key string, in UpdateInput) (Sequence, error) {
	set := map[string]any{}
	var fields []string
	if in.Prefix != nil {
		set["prefix"] = *in.Prefix
		fields = append(fields, "prefix")
	}
	if in.Padding != nil {
		set["padding"] = *in.Padding
		fields = append(fields, "padding")
	}
	if len(set) == 0 {
		return s.repo.Get(ctx, scope, key)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      "doc_sequences",
		EntityType: audit.EntitySequence,
		EventType:  "sequence.updated",
		Set:        set,
		Where:      map[string]any{"key": key},
		Payload:    audit.ChangePayload{Fields: fields},
	})
	if err != nil {
		return Sequence{}, err
	}
	if entity == nil {
		return Sequence{}, shared.ErrNotFound
	}
	return sequenceFromEntity(entity), nil
}

// Get returns one sequence row.
func (s *Service) Get(ctx context.Context, scope shared.Scope, key string) (Sequence, error) {
	return s.repo.Get(ctx, scope, key)
}

// List returns the tenant's sequences.
func (s *Service) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Sequence, error) {
	return s.repo.List(ctx, scope, page)
}

// format renders prefix + optional "<year>-" + zero-padded value.
func format(a allocation) string {
	out := a.Prefix
	if a.YearReset {
		out += fmt.Sprintf("%d-", a.Year)
	}
	if a.Padding > 0 {
		return out + fmt.Sprintf("%0*d", a.Padding, a.Raw)
	}
	return out + fmt.Sprintf("%d", a.Raw)
}

func sequenceFromEntity(e mutate.Entity) Sequence {
	s := Sequence{ID: e.ID()}
	s.Key, _ = e["key"].(string)
	s.Prefix, _ = e["prefix"].(string)
	if p, ok := e["padding"].(int64); ok {
		s.Padding = int(p)
	}
	s.YearReset, _ = e["year_reset"].(bool)
	if y, ok := e["current_year"].(int64); ok {
		s.CurrentYear = int(y)
	}
	s.NextValue, _ = e["next_value"].(int64)
	if t, ok := e["created_at"].(time.Time); ok {
		s.CreatedAt = t
	}
	if t, ok := e["updated_at"].(time.Time); ok {
		s.UpdatedAt = t
	}
	return s
}
