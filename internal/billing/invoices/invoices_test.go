package invoices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docflow/docflowtest"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
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
	return sequence.Allocation{Raw: c.n, Formatted: fmt.Sprintf("INV-2026-%05d", c.n)}, nil
}

// engineRepo serves invoice reads from the engine double.
type engineRepo struct {
	eng *docflowtest.MemoryEngine
}

func (r *engineRepo) Get(ctx context.Context, scope shared.Scope, id int64) (*Invoice, error) {
	doc, err := r.eng.Get(ctx, scope, Fam, id)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{Header: doc.Header, Lines: doc.Lines}
	if credited, ok := r.eng.Extra(scope.TenantID, Fam, id, "credited_cents").(int64); ok {
		inv.CreditedCents = credited
	}
	if issued, ok := r.eng.Extra(scope.TenantID, Fam, id, "issued_at").(time.Time); ok {
		inv.IssuedAt = &issued
	}
	return inv, nil
}

// fakeBooks records postings with the same (source, event) uniqueness the
// ledger enforces.
type fakeBooks struct {
	entries []ledger.Entry
	nextID  int64
}

func (b *fakeBooks) Post(_ context.Context, _ shared.Scope, in ledger.PostInput) (*ledger.Entry, error) {
	for _, e := range b.entries {
		if e.SourceType == in.SourceType && e.SourceID == in.SourceID && e.EventType == in.EventType {
			return nil, shared.ErrAlreadyPosted
		}
	}
	b.nextID++
	e := ledger.Entry{ID: b.nextID, EntryNo: fmt.Sprintf("JE-%d", b.nextID),
		SourceType: in.SourceType, SourceID: in.SourceID, EventType: in.EventType, PostedAt: time.Now().UTC()}
	for i, l := range in.Lines {
		e.Lines = append(e.Lines, ledger.Line{LineNo: int64(i + 1), AccountCode: l.AccountCode, Direction: l.Direction, AmountCents: l.AmountCents})
	}
	b.entries = append(b.entries, e)
	return &b.entries[len(b.entries)-1], nil
}

func (b *fakeBooks) Reverse(ctx context.Context, scope shared.Scope, entryID int64, eventType, memo string) (*ledger.Entry, error) {
	for _, e := range b.entries {
		if e.ID == entryID {
			in := ledger.PostInput{SourceType: e.SourceType, SourceID: e.SourceID, EventType: eventType, Memo: memo}
			for _, l := range e.Lines {
				dir := ledger.Debit
				if l.Direction == ledger.Debit {
					dir = ledger.Credit
				}
				in.Lines = append(in.Lines, ledger.LineInput{AccountCode: l.AccountCode, Direction: dir, AmountCents: l.AmountCents})
			}
			return b.Post(ctx, scope, in)
		}
	}
	return nil, shared.ErrNotFound
}

func (b *fakeBooks) ForSource(_ context.Context, _ shared.Scope, sourceType string, sourceID int64) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range b.entries {
		if e.SourceType == sourceType && e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func invoiceScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func testWorld() (*Service, *docflowtest.MemoryEngine, *fakeBooks) {
	eng := docflowtest.NewMemoryEngine()
	books := &fakeBooks{}
	svc := NewService(eng, &engineRepo{eng: eng}, &seedingMutator{eng: eng}, &countingNumberer{}, books)
	return svc, eng, books
}

func draftWithLine(t *testing.T, svc *Service) *Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := svc.Create(ctx, invoiceScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)
	_, err = svc.UpsertLine(ctx, invoiceScope(), inv.ID, LineInput{Description: "work", Quantity: "10", UnitPrice: "100.00"})
	require.NoError(t, err)
	inv, err = svc.Get(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	return inv
}

func TestIssuePostsReceivableAgainstRevenue(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()
	inv := draftWithLine(t, svc)

	issued, err := svc.Issue(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, issued.Status)

	require.Len(t, books.entries, 1)
	entry := books.entries[0]
	require.Equal(t, ledger.EventInvoiceIssued, entry.EventType)
	require.Equal(t, inv.ID, entry.SourceID)
	require.Equal(t, AccountReceivable, entry.Lines[0].AccountCode)
	require.Equal(t, ledger.Debit, entry.Lines[0].Direction)
	require.Equal(t, int64(100000), entry.Lines[0].AmountCents)
	require.Equal(t, AccountRevenue, entry.Lines[1].AccountCode)
	require.Equal(t, ledger.Credit, entry.Lines[1].Direction)
}

func TestIssueEmptyInvoiceRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()

	inv, err := svc.Create(ctx, invoiceScope(), CreateInput{PartnerID: 5, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.Issue(ctx, invoiceScope(), inv.ID)
	var state *shared.StateError
	require.ErrorAs(t, err, &state)
	require.Empty(t, books.entries)
}

func TestIssueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()
	inv := draftWithLine(t, svc)

	_, err := svc.Issue(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)

	// Second call re-drives the posting step and succeeds without a
	// duplicate entry.
	again, err := svc.Issue(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, again.Status)
	require.Len(t, books.entries, 1)
}

func TestCancelIssuedPostsReversal(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()
	inv := draftWithLine(t, svc)

	_, err := svc.Issue(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusCancelled, cancelled.Status)

	require.Len(t, books.entries, 2)
	rev := books.entries[1]
	require.Equal(t, ledger.EventInvoiceCancelled, rev.EventType)
	require.Equal(t, ledger.Credit, rev.Lines[0].Direction, "receivable side flipped")
}

func TestCancelDraftDoesNotTouchLedger(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()
	inv := draftWithLine(t, svc)

	_, err := svc.Cancel(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	require.Empty(t, books.entries)
}

func TestMarkPaidPostsCash(t *testing.T) {
	ctx := context.Background()
	svc, _, books := testWorld()
	inv := draftWithLine(t, svc)

	_, err := svc.Issue(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, invoiceScope(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)

	require.Len(t, books.entries, 2)
	payment := books.entries[1]
	require.Equal(t, ledger.EventInvoicePaid, payment.EventType)
	require.Equal(t, AccountCash, payment.Lines[0].AccountCode)
}

func TestMarkPaidRequiresIssued(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testWorld()
	inv := draftWithLine(t, svc)

	_, err := svc.MarkPaid(ctx, invoiceScope(), inv.ID)
	var state *shared.StateError
	require.ErrorAs(t, err, &state)
	require.Equal(t, "DRAFT", state.Current)
	require.Equal(t, "ISSUED", state.Required)
}
