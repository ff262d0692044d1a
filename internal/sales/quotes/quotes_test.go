package quotes

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docflow/docflowtest"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// seedingMutator inserts quote headers straight into the engine double, the
// way the audited insert lands them in the real table.
type seedingMutator struct {
	eng   *docflowtest.MemoryEngine
	scope shared.Scope
	// update records the last header update; updateEntity is what it
	// returns, nil simulating a guard failure.
	update       mutate.UpdateSpec
	updateEntity mutate.Entity
}

func (m *seedingMutator) InsertWithAudit(_ context.Context, scope shared.Scope, spec mutate.InsertSpec) (mutate.Entity, error) {
	id := m.eng.Seed(scope.TenantID, Fam, docflow.Header{
		DocNo:     spec.Values["doc_no"].(string),
		PartnerID: spec.Values["partner_id"].(int64),
		Currency:  spec.Values["currency"].(string),
		Status:    docflow.Status(spec.Values["status"].(string)),
	})
	return mutate.Entity{"id": id}, nil
}

func (m *seedingMutator) UpdateWithAudit(_ context.Context, scope shared.Scope, spec mutate.UpdateSpec) (mutate.Entity, error) {
	m.update = spec
	return m.updateEntity, nil
}

type staticNumberer struct{ n int64 }

func (s *staticNumberer) Next(context.Context, shared.Scope, string) (sequence.Allocation, error) {
	s.n++
	return sequence.Allocation{Raw: s.n, Formatted: "Q-2026-0000" + string(rune('0'+s.n))}, nil
}

func testService() (*Service, *docflowtest.MemoryEngine) {
	eng := docflowtest.NewMemoryEngine()
	return NewService(eng, &seedingMutator{eng: eng}, &staticNumberer{}), eng
}

func quoteScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func TestQuoteLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Zero(t, doc.TotalCents)

	res, err := svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{
		Description: "consulting", Quantity: "10.5", UnitPrice: "100.00",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.LineNo)
	require.Equal(t, int64(105000), res.Header.TotalCents)

	sent, err := svc.Send(ctx, quoteScope(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)

	accepted, err := svc.Accept(ctx, quoteScope(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
}

func TestLineEditsLockAfterSend(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)
	_, err = svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{Description: "a", Quantity: "1", UnitPrice: "10.00"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, quoteScope(), doc.ID)
	require.NoError(t, err)

	_, err = svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{Description: "b", Quantity: "1", UnitPrice: "10.00"})
	var state *shared.StateError
	require.ErrorAs(t, err, &state)
	require.Equal(t, "SENT", state.Current)
	require.Equal(t, "DRAFT", state.Required)
}

func TestSendEmptyQuoteRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.Send(ctx, quoteScope(), doc.ID)
	var state *shared.StateError
	require.ErrorAs(t, err, &state)
	require.Equal(t, "document has no lines", state.Reason)
}

func TestAcceptedQuoteCannotBeCancelled(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)
	_, err = svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{Description: "a", Quantity: "1", UnitPrice: "10.00"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, quoteScope(), doc.ID)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, quoteScope(), doc.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, quoteScope(), doc.ID)
	var state *shared.StateError
	require.ErrorAs(t, err, &state)
	require.Equal(t, "ACCEPTED", state.Current)
}

func TestQuoteCrossTenantIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	other := shared.Scope{TenantID: 2, TraceID: uuid.New()}
	_, err = svc.Get(ctx, other, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Send(ctx, other, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRemoveMissingLine(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.RemoveLine(ctx, quoteScope(), doc.ID, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLineInputParsing(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService()

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{Description: "a", Quantity: "-1", UnitPrice: "10.00"})
	require.Error(t, err, "negative quantity rejected at the boundary")

	_, err = svc.UpsertLine(ctx, quoteScope(), doc.ID, LineInput{Description: "a", Quantity: "1", UnitPrice: "10.001"})
	require.Error(t, err, "sub-cent prices rejected at the boundary")
}

func TestUpdateAuditNamesChangedFields(t *testing.T) {
	ctx := context.Background()
	eng := docflowtest.NewMemoryEngine()
	m := &seedingMutator{eng: eng}
	svc := NewService(eng, m, &staticNumberer{})

	doc, err := svc.Create(ctx, quoteScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	m.updateEntity = mutate.Entity{"id": doc.ID}
	partner := int64(9)
	_, err = svc.Update(ctx, quoteScope(), doc.ID, UpdateInput{PartnerID: &partner})
	require.NoError(t, err)

	payload, ok := m.update.Payload.(audit.ChangePayload)
	require.True(t, ok, "header update must carry a change payload")
	require.Equal(t, []string{"partner_id"}, payload.Fields)
	require.NoError(t, payload.Validate())
	require.Equal(t, int64(9), m.update.Set["partner_id"])
}
