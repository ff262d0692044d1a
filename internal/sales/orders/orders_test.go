package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docflow/docflowtest"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sales/quotes"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type seedingMutator struct {
	eng *docflowtest.MemoryEngine
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

func (m *seedingMutator) UpdateWithAudit(context.Context, shared.Scope, mutate.UpdateSpec) (mutate.Entity, error) {
	return nil, nil
}

type countingNumberer struct{ n int64 }

func (c *countingNumberer) Next(context.Context, shared.Scope, string) (sequence.Allocation, error) {
	c.n++
	return sequence.Allocation{Raw: c.n, Formatted: fmt.Sprintf("SO-2026-%05d", c.n)}, nil
}

func orderScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func seedQuote(eng *docflowtest.MemoryEngine, status docflow.Status, lines ...docflow.Line) int64 {
	return eng.Seed(1, quotes.Fam, docflow.Header{
		DocNo: "Q-2026-00001", PartnerID: 5, Currency: "EUR", Status: status,
	}, lines...)
}

func TestCreateFromAcceptedQuote(t *testing.T) {
	ctx := context.Background()
	eng := docflowtest.NewMemoryEngine()
	svc := NewService(eng, &seedingMutator{eng: eng}, &countingNumberer{})

	quoteID := seedQuote(eng, quotes.StatusAccepted,
		docflow.Line{LineNo: 1, Description: "a", QtyMicros: 2_000_000, UnitPriceCents: 500, TotalCents: 1000},
		docflow.Line{LineNo: 2, Description: "b", QtyMicros: 1_000_000, UnitPriceCents: 250, TotalCents: 250},
	)

	doc, err := svc.CreateFromQuote(ctx, orderScope(), quoteID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "SO-2026-00001", doc.DocNo)
	require.Equal(t, int64(1250), doc.TotalCents)
	require.Len(t, doc.Lines, 2)
	require.Equal(t, quoteID, eng.Extra(1, Fam, doc.ID, "quote_id"))
}

func TestCreateFromQuoteGuards(t *testing.T) {
	ctx := context.Background()
	eng := docflowtest.NewMemoryEngine()
	svc := NewService(eng, &seedingMutator{eng: eng}, &countingNumberer{})

	t.Run("wrong status", func(t *testing.T) {
		quoteID := seedQuote(eng, quotes.StatusSent, docflow.Line{LineNo: 1, TotalCents: 100})
		_, err := svc.CreateFromQuote(ctx, orderScope(), quoteID)
		var state *shared.StateError
		require.ErrorAs(t, err, &state)
		require.Equal(t, "SENT", state.Current)
		require.Equal(t, "ACCEPTED", state.Required)
	})

	t.Run("empty quote", func(t *testing.T) {
		quoteID := seedQuote(eng, quotes.StatusAccepted)
		_, err := svc.CreateFromQuote(ctx, orderScope(), quoteID)
		var state *shared.StateError
		require.ErrorAs(t, err, &state)
		require.Equal(t, "document has no lines", state.Reason)
	})

	t.Run("unknown quote", func(t *testing.T) {
		_, err := svc.CreateFromQuote(ctx, orderScope(), 9999)
		require.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestOrderConfirmAndLock(t *testing.T) {
	ctx := context.Background()
	eng := docflowtest.NewMemoryEngine()
	svc := NewService(eng, &seedingMutator{eng: eng}, &countingNumberer{})

	doc, err := svc.Create(ctx, orderScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, orderScope(), doc.ID)
	var state *shared.StateError
	require.ErrorAs(t, err, &state, "empty order cannot be confirmed")

	_, err = svc.UpsertLine(ctx, orderScope(), doc.ID, LineInput{Description: "a", Quantity: "3", UnitPrice: "20.00"})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, orderScope(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = svc.UpsertLine(ctx, orderScope(), doc.ID, LineInput{Description: "b", Quantity: "1", UnitPrice: "5.00"})
	require.ErrorAs(t, err, &state)
	require.Equal(t, "CONFIRMED", state.Current)

	cancelled, err := svc.Cancel(ctx, orderScope(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusCancelled, cancelled.Status)
}
