package recon

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/billing/creditnotes"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DefaultGrace is how long after issue a document may sit unposted before
// the scan picks it up.
const DefaultGrace = 5 * time.Minute

const tenantConcurrency = 4

// InvoiceRedriver re-runs the posting step of an already issued invoice.
// Satisfied by *invoices.Service: Issue on an ISSUED invoice only retries
// the ledger posting.
type InvoiceRedriver interface {
	Issue(ctx context.Context, scope shared.Scope, id int64) (*invoices.Invoice, error)
}

// NoteRedriver is the credit note counterpart. Satisfied by
// *creditnotes.Service.
type NoteRedriver interface {
	Issue(ctx context.Context, scope shared.Scope, id int64) (*creditnotes.CreditNote, error)
}

// Scanner walks every tenant looking for issued documents without their
// ledger entry and re-drives the posting.
type Scanner struct {
	repo     Repository
	invoices InvoiceRedriver
	notes    NoteRedriver
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	grace    time.Duration
}

// NewScanner constructs the scanner. A zero grace falls back to
// DefaultGrace.
func NewScanner(repo Repository, inv InvoiceRedriver, notes NoteRedriver, logger *slog.Logger, metrics *jobmetrics.Metrics, grace time.Duration) *Scanner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Scanner{repo: repo, invoices: inv, notes: notes, logger: logger, metrics: metrics, grace: grace}
}

// Run scans all tenants. A failed repair is logged and counted but does
// not abort the scan; only repository errors surface.
func (s *Scanner) Run(ctx context.Context) error {
	tenants, err := s.repo.Tenants(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-s.grace)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(tenantConcurrency)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			return s.scanTenant(ctx, tenantID, cutoff)
		})
	}
	return g.Wait()
}

func (s *Scanner) scanTenant(ctx context.Context, tenantID int64, cutoff time.Time) error {
	scope := shared.SystemScope(tenantID)

	findings, err := s.repo.UnpostedInvoices(ctx, tenantID, cutoff)
	if err != nil {
		return err
	}
	s.metrics.AddDrift(invoices.SourceType, tenantID, len(findings))
	for _, f := range findings {
		if _, err := s.invoices.Issue(ctx, scope, f.DocID); err != nil {
			s.logger.Error("invoice reposting failed",
				slog.Int64("tenant_id", tenantID), slog.String("doc_no", f.DocNo), slog.Any("error", err))
			continue
		}
		s.metrics.AddRepairs(invoices.SourceType, tenantID, 1)
		s.logger.Info("invoice posting re-driven",
			slog.Int64("tenant_id", tenantID), slog.String("doc_no", f.DocNo))
	}

	findings, err = s.repo.UnpostedCreditNotes(ctx, tenantID, cutoff)
	if err != nil {
		return err
	}
	s.metrics.AddDrift(creditnotes.SourceType, tenantID, len(findings))
	for _, f := range findings {
		if _, err := s.notes.Issue(ctx, scope, f.DocID); err != nil {
			s.logger.Error("credit note reposting failed",
				slog.Int64("tenant_id", tenantID), slog.String("doc_no", f.DocNo), slog.Any("error", err))
			continue
		}
		s.metrics.AddRepairs(creditnotes.SourceType, tenantID, 1)
		s.logger.Info("credit note posting re-driven",
			slog.Int64("tenant_id", tenantID), slog.String("doc_no", f.DocNo))
	}
	return nil
}
