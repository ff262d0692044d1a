package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryLedgerRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
	// posted indexes (tenant, source_type, source_id, event_type), the
	// uniqueness the database enforces.
	posted map[string]bool
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{nextID: 1, entries: map[int64]*Entry{}, posted: map[string]bool{}}
}

func (m *memoryLedgerRepo) Post(_ context.Context, scope shared.Scope, rec postRecord) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s/%d/%s", scope.TenantID, rec.SourceType, rec.SourceID, rec.EventType)
	if m.posted[key] {
		return nil, shared.ErrAlreadyPosted
	}
	m.posted[key] = true
	e := &Entry{
		ID:         m.nextID,
		EntryNo:    rec.EntryNo,
		SourceType: rec.SourceType,
		SourceID:   rec.SourceID,
		EventType:  rec.EventType,
		Memo:       rec.Memo,
		ReversalOf: rec.ReversalOf,
		PostedAt:   time.Now().UTC(),
	}
	m.nextID++
	for i, l := range rec.Lines {
		e.Lines = append(e.Lines, Line{ID: m.nextID, LineNo: int64(i + 1), AccountCode: l.AccountCode, Direction: l.Direction, AmountCents: l.AmountCents})
		m.nextID++
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *memoryLedgerRepo) Get(_ context.Context, scope shared.Scope, id int64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memoryLedgerRepo) ForSource(_ context.Context, scope shared.Scope, sourceType string, sourceID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for id := int64(1); id < m.nextID; id++ {
		if e, ok := m.entries[id]; ok && e.SourceType == sourceType && e.SourceID == sourceID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryLedgerRepo) List(_ context.Context, scope shared.Scope, page shared.Page) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for id := page.AfterID + 1; id < m.nextID && len(out) < page.Limit; id++ {
		if e, ok := m.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeNumberer struct {
	mu   sync.Mutex
	next int64
}

func (f *fakeNumberer) Next(context.Context, shared.Scope, string) (sequence.Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return sequence.Allocation{Raw: f.next, Formatted: fmt.Sprintf("JE-%05d", f.next)}, nil
}

func ledgerScope() shared.Scope {
	return shared.Scope{TenantID: 1, TraceID: uuid.New()}
}

func balancedInput() PostInput {
	return PostInput{
		SourceType: "invoice",
		SourceID:   10,
		EventType:  EventInvoiceIssued,
		Lines: []LineInput{
			{AccountCode: "1200", Direction: Debit, AmountCents: 11900},
			{AccountCode: "4000", Direction: Credit, AmountCents: 10000},
			{AccountCode: "2200", Direction: Credit, AmountCents: 1900},
		},
	}
}

func TestPostBalancedEntry(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})

	e, err := svc.Post(context.Background(), ledgerScope(), balancedInput())
	require.NoError(t, err)
	require.Equal(t, "JE-00001", e.EntryNo)
	require.Len(t, e.Lines, 3)
	require.Equal(t, int64(1), e.Lines[0].LineNo)
	require.Nil(t, e.ReversalOf)
}

func TestPostUnbalancedRejectedBeforeNumbering(t *testing.T) {
	numbers := &fakeNumberer{}
	svc := NewService(newMemoryLedgerRepo(), numbers)

	in := balancedInput()
	in.Lines[2].AmountCents = 1800

	_, err := svc.Post(context.Background(), ledgerScope(), in)
	var unbalanced *shared.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	require.Equal(t, int64(11900), unbalanced.DebitCents)
	require.Equal(t, int64(11800), unbalanced.CreditCents)
	require.Zero(t, numbers.next, "a rejected entry must not consume a number")
}

func TestPostRejectsSingleSidedEntry(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	in := balancedInput()
	in.Lines = in.Lines[:1]
	_, err := svc.Post(context.Background(), ledgerScope(), in)
	require.Error(t, err)
}

func TestPostRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	in := balancedInput()
	in.Lines[0].AmountCents = 0
	_, err := svc.Post(context.Background(), ledgerScope(), in)
	require.Error(t, err)
}

func TestPostIsIdempotentPerSourceEvent(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	ctx := context.Background()

	_, err := svc.Post(ctx, ledgerScope(), balancedInput())
	require.NoError(t, err)

	_, err = svc.Post(ctx, ledgerScope(), balancedInput())
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)

	entries, err := svc.ForSource(ctx, ledgerScope(), "invoice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestReverseFlipsDirections(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	ctx := context.Background()

	orig, err := svc.Post(ctx, ledgerScope(), balancedInput())
	require.NoError(t, err)

	rev, err := svc.Reverse(ctx, ledgerScope(), orig.ID, EventInvoiceCancelled, "cancelled")
	require.NoError(t, err)
	require.NotNil(t, rev.ReversalOf)
	require.Equal(t, orig.ID, *rev.ReversalOf)
	require.Equal(t, "JE-00002", rev.EntryNo)
	require.Len(t, rev.Lines, len(orig.Lines))
	for i := range rev.Lines {
		require.Equal(t, orig.Lines[i].AccountCode, rev.Lines[i].AccountCode)
		require.Equal(t, orig.Lines[i].AmountCents, rev.Lines[i].AmountCents)
		require.NotEqual(t, orig.Lines[i].Direction, rev.Lines[i].Direction)
	}
}

func TestReverseUnknownEntry(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	_, err := svc.Reverse(context.Background(), ledgerScope(), 99, EventInvoiceCancelled, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReverseSameEventRejected(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), &fakeNumberer{})
	ctx := context.Background()

	orig, err := svc.Post(ctx, ledgerScope(), balancedInput())
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, ledgerScope(), orig.ID, EventInvoiceCancelled, "")
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, ledgerScope(), orig.ID, EventInvoiceCancelled, "")
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)
}
