package recon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/billing/creditnotes"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeRepo struct {
	tenants         []int64
	invoiceFindings map[int64][]Finding
	noteFindings    map[int64][]Finding
}

func (r *fakeRepo) Tenants(context.Context) ([]int64, error) {
	return r.tenants, nil
}

func (r *fakeRepo) UnpostedInvoices(_ context.Context, tenantID int64, _ time.Time) ([]Finding, error) {
	return r.invoiceFindings[tenantID], nil
}

func (r *fakeRepo) UnpostedCreditNotes(_ context.Context, tenantID int64, _ time.Time) ([]Finding, error) {
	return r.noteFindings[tenantID], nil
}

type call struct {
	tenantID int64
	docID    int64
}

type fakeInvoiceRedriver struct {
	mu     sync.Mutex
	calls  []call
	failID int64
}

func (f *fakeInvoiceRedriver) Issue(_ context.Context, scope shared.Scope, id int64) (*invoices.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{tenantID: scope.TenantID, docID: id})
	if id == f.failID {
		return nil, errors.New("ledger unavailable")
	}
	return &invoices.Invoice{}, nil
}

type fakeNoteRedriver struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeNoteRedriver) Issue(_ context.Context, scope shared.Scope, id int64) (*creditnotes.CreditNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{tenantID: scope.TenantID, docID: id})
	return &creditnotes.CreditNote{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanRedrivesUnpostedDocuments(t *testing.T) {
	repo := &fakeRepo{
		tenants: []int64{1, 2},
		invoiceFindings: map[int64][]Finding{
			1: {{DocID: 10, DocNo: "INV-2026-00010"}, {DocID: 11, DocNo: "INV-2026-00011"}},
		},
		noteFindings: map[int64][]Finding{
			2: {{DocID: 30, DocNo: "CN-2026-00003"}},
		},
	}
	inv := &fakeInvoiceRedriver{}
	notes := &fakeNoteRedriver{}
	s := NewScanner(repo, inv, notes, discardLogger(), nil, time.Minute)

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, inv.calls, 2)
	for _, c := range inv.calls {
		require.EqualValues(t, 1, c.tenantID, "repair must run under the owning tenant's scope")
	}
	require.Len(t, notes.calls, 1)
	require.Equal(t, call{tenantID: 2, docID: 30}, notes.calls[0])
}

func TestScanContinuesPastFailedRepair(t *testing.T) {
	repo := &fakeRepo{
		tenants: []int64{1},
		invoiceFindings: map[int64][]Finding{
			1: {{DocID: 10, DocNo: "INV-2026-00010"}, {DocID: 11, DocNo: "INV-2026-00011"}},
		},
	}
	inv := &fakeInvoiceRedriver{failID: 10}
	notes := &fakeNoteRedriver{}
	s := NewScanner(repo, inv, notes, discardLogger(), nil, time.Minute)

	require.NoError(t, s.Run(context.Background()), "a failed repair must not abort the scan")
	require.Len(t, inv.calls, 2)
}

func TestScanSkipsCleanTenants(t *testing.T) {
	repo := &fakeRepo{tenants: []int64{1, 2, 3}}
	inv := &fakeInvoiceRedriver{}
	notes := &fakeNoteRedriver{}
	s := NewScanner(repo, inv, notes, discardLogger(), nil, 0)

	require.NoError(t, s.Run(context.Background()))
	require.Empty(t, inv.calls)
	require.Empty(t, notes.calls)
}
