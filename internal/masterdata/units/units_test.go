package units

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeMutator struct {
	insert mutate.InsertSpec
	update mutate.UpdateSpec
	// entity is returned from both calls; nil simulates a guard failure.
	entity mutate.Entity
	err    error
}

func (f *fakeMutator) InsertWithAudit(_ context.Context, _ shared.Scope, spec mutate.InsertSpec) (mutate.Entity, error) {
	f.insert = spec
	return f.entity, f.err
}

func (f *fakeMutator) UpdateWithAudit(_ context.Context, _ shared.Scope, spec mutate.UpdateSpec) (mutate.Entity, error) {
	f.update = spec
	return f.entity, f.err
}

type fakeRepo struct {
	unit *Unit
}

func (f *fakeRepo) Get(context.Context, shared.Scope, int64) (*Unit, error) {
	if f.unit == nil {
		return nil, shared.ErrNotFound
	}
	return f.unit, nil
}

func (f *fakeRepo) List(context.Context, shared.Scope, shared.Page) ([]Unit, error) {
	if f.unit == nil {
		return nil, nil
	}
	return []Unit{*f.unit}, nil
}

func unitScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func unitEntity() mutate.Entity {
	return mutate.Entity{
		"id": int64(3), "code": "PCS", "name": "Pieces", "archived": false,
		"created_at": time.Now().UTC(), "updated_at": time.Now().UTC(),
	}
}

func TestCreateUnit(t *testing.T) {
	m := &fakeMutator{entity: unitEntity()}
	svc := NewService(&fakeRepo{}, m)

	u, err := svc.Create(context.Background(), unitScope(), CreateInput{Code: "PCS", Name: "Pieces"})
	require.NoError(t, err)
	require.Equal(t, int64(3), u.ID)
	require.Equal(t, "PCS", u.Code)

	require.Equal(t, "units", m.insert.Table)
	require.Equal(t, "unit.created", m.insert.EventType)
	require.Equal(t, "PCS", m.insert.Values["code"])
}

func TestCreateUnitValidation(t *testing.T) {
	svc := NewService(&fakeRepo{}, &fakeMutator{})
	_, err := svc.Create(context.Background(), unitScope(), CreateInput{Code: "", Name: "Pieces"})
	require.Error(t, err)
}

func TestUpdateUnitAuditNamesChangedFields(t *testing.T) {
	m := &fakeMutator{entity: unitEntity()}
	svc := NewService(&fakeRepo{}, m)

	name := "Each"
	archived := true
	_, err := svc.Update(context.Background(), unitScope(), 3, UpdateInput{Name: &name, Archived: &archived})
	require.NoError(t, err)

	payload, ok := m.update.Payload.(audit.ChangePayload)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"name", "archived"}, payload.Fields)
	require.NoError(t, payload.Validate())
	require.Equal(t, "Each", m.update.Set["name"])
}

func TestUpdateUnitNotFound(t *testing.T) {
	m := &fakeMutator{entity: nil}
	svc := NewService(&fakeRepo{}, m)

	name := "Each"
	_, err := svc.Update(context.Background(), unitScope(), 9, UpdateInput{Name: &name})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, map[string]any{"id": int64(9)}, m.update.Where)
}

func TestUpdateUnitNoChangesReadsBack(t *testing.T) {
	existing := &Unit{ID: 9, Code: "PCS", Name: "Pieces"}
	m := &fakeMutator{}
	svc := NewService(&fakeRepo{unit: existing}, m)

	u, err := svc.Update(context.Background(), unitScope(), 9, UpdateInput{})
	require.NoError(t, err)
	require.Equal(t, existing, u)
	require.Empty(t, m.update.Table, "no mutation issued")
}
