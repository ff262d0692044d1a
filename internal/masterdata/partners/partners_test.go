package partners

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

type fakeRepo struct{}

func (fakeRepo) Get(context.Context, shared.Scope, int64) (*Partner, error) {
	return nil, shared.ErrNotFound
}

func (fakeRepo) List(context.Context, shared.Scope, *Kind, shared.Page) ([]Partner, error) {
	return nil, nil
}

func partnerScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func partnerEntity() mutate.Entity {
	return mutate.Entity{
		"id": int64(5), "code": "ACME", "name": "Acme GmbH", "kind": "CUSTOMER",
		"email": "billing@acme.test", "currency": "EUR", "archived": false,
		"created_at": time.Now().UTC(), "updated_at": time.Now().UTC(),
	}
}

func TestCreatePartner(t *testing.T) {
	m := &fakeMutator{entity: partnerEntity()}
	svc := NewService(fakeRepo{}, m)

	p, err := svc.Create(context.Background(), partnerScope(), CreateInput{
		Code: "ACME", Name: "Acme GmbH", Kind: KindCustomer, Email: "billing@acme.test", Currency: "EUR",
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), p.ID)
	require.Equal(t, KindCustomer, p.Kind)
	require.Equal(t, "partners", m.insert.Table)
	require.Equal(t, "partner.created", m.insert.EventType)
}

func TestCreatePartnerValidation(t *testing.T) {
	svc := NewService(fakeRepo{}, &fakeMutator{})
	cases := []CreateInput{
		{Name: "x", Kind: KindCustomer, Currency: "EUR"},             // missing code
		{Code: "A", Name: "x", Kind: "VENDOR", Currency: "EUR"},      // bad kind
		{Code: "A", Name: "x", Kind: KindCustomer, Currency: "eur"},  // lowercase currency
		{Code: "A", Name: "x", Kind: KindCustomer, Currency: "EURO"}, // not ISO length
	}
	for _, in := range cases {
		_, err := svc.Create(context.Background(), partnerScope(), in)
		require.Error(t, err)
	}
}

func TestUpdatePartnerAuditNamesChangedFields(t *testing.T) {
	m := &fakeMutator{entity: partnerEntity()}
	svc := NewService(fakeRepo{}, m)

	name := "Acme AG"
	email := "ap@acme.test"
	_, err := svc.Update(context.Background(), partnerScope(), 5, UpdateInput{Name: &name, Email: &email})
	require.NoError(t, err)

	payload, ok := m.update.Payload.(audit.ChangePayload)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"name", "email"}, payload.Fields)
	require.NoError(t, payload.Validate())
}

func TestUpdatePartnerNotFound(t *testing.T) {
	m := &fakeMutator{}
	svc := NewService(fakeRepo{}, m)

	archived := true
	_, err := svc.Update(context.Background(), partnerScope(), 12, UpdateInput{Archived: &archived})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, map[string]any{"archived": true}, m.update.Set)
}
