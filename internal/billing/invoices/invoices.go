// Package invoices implements the invoice lifecycle: DRAFT -> ISSUED ->
// PAID, cancellable from DRAFT and ISSUED. Issuing and paying post balanced
// ledger entries; cancelling an issued invoice posts a reversal. The ledger
// write is a separate statement from the status flip, so every step is
// idempotent and the reconciliation scan can re-drive a half-finished
// issue.
package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Statuses of the invoice lifecycle.
const (
	StatusDraft  docflow.Status = "DRAFT"
	StatusIssued docflow.Status = "ISSUED"
	StatusPaid   docflow.Status = "PAID"
)

// Account codes for invoice postings.
const (
	AccountReceivable = "1200"
	AccountCash       = "1000"
	AccountRevenue    = "4000"
)

// SourceType identifies invoices as a ledger posting source.
const SourceType = "invoice"

// Fam describes the invoice document family.
var Fam = docflow.Family{
	Entity:    audit.EntityInvoice,
	Table:     "invoices",
	LineTable: "invoice_lines",
	FK:        "invoice_id",
	Mutable:   StatusDraft,
	Statuses:  []docflow.Status{StatusDraft, StatusIssued, StatusPaid, docflow.StatusCancelled},
}

// Invoice is a full invoice view including the billing-specific columns the
// generic engine does not carry.
type Invoice struct {
	docflow.Header
	CreditedCents int64          `json:"credited_cents"`
	IssuedAt      *time.Time     `json:"issued_at,omitempty"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	OrderID       *int64         `json:"order_id,omitempty"`
	Lines         []docflow.Line `json:"lines"`
}

// CreateInput describes a new standalone invoice.
type CreateInput struct {
	PartnerID int64  `json:"partner_id" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3,uppercase"`
}

// UpdateInput carries header fields changeable while the invoice is in
// DRAFT.
type UpdateInput struct {
	PartnerID *int64  `json:"partner_id" validate:"omitempty,gt=0"`
	Currency  *string `json:"currency" validate:"omitempty,len=3,uppercase"`
}

// LineInput is a line upsert request, decimal strings at the boundary.
type LineInput struct {
	LineNo      *int64 `json:"line_no" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// Mutator is the slice of the mutation primitive the service needs.
type Mutator interface {
	InsertWithAudit(ctx context.Context, scope shared.Scope, spec mutate.InsertSpec) (mutate.Entity, error)
	UpdateWithAudit(ctx context.Context, scope shared.Scope, spec mutate.UpdateSpec) (mutate.Entity, error)
}

// Numberer allocates document numbers. Satisfied by *sequence.Service.
type Numberer interface {
	Next(ctx context.Context, scope shared.Scope, key string) (sequence.Allocation, error)
}

// Poster is the slice of the ledger the service needs. Satisfied by
// *ledger.Service.
type Poster interface {
	Post(ctx context.Context, scope shared.Scope, in ledger.PostInput) (*ledger.Entry, error)
	Reverse(ctx context.Context, scope shared.Scope, entryID int64, eventType, memo string) (*ledger.Entry, error)
	ForSource(ctx context.Context, scope shared.Scope, sourceType string, sourceID int64) ([]ledger.Entry, error)
}

// Service implements invoice operations.
type Service struct {
	flow     docflow.API
	repo     Repository
	exec     Mutator
	numbers  Numberer
	books    Poster
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(flow docflow.API, repo Repository, exec Mutator, numbers Numberer, books Poster) *Service {
	return &Service{flow: flow, repo: repo, exec: exec, numbers: numbers, books: books, validate: validator.New()}
}

// Create opens an empty draft invoice.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*Invoice, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyInvoice)
	if err != nil {
		return nil, err
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "invoice.created",
		Values: map[string]any{
			"doc_no": alloc.Formatted, "partner_id": in.PartnerID, "currency": in.Currency,
			"status": string(StatusDraft), "subtotal_cents": int64(0), "total_cents": int64(0),
			"credited_cents": int64(0),
		},
		Payload: audit.SnapshotPayload{Values: map[string]any{"doc_no": alloc.Formatted, "partner_id": in.PartnerID}},
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, entity.ID())
}

// CreateFromOrder builds a draft invoice from a confirmed order, copying its
// lines and totals.
func (s *Service) CreateFromOrder(ctx context.Context, scope shared.Scope, orderID int64) (*Invoice, error) {
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyInvoice)
	if err != nil {
		return nil, err
	}
	header, err := s.flow.CreateFromPredecessor(ctx, scope, Fam, docflow.ConvertInput{
		From:           orders.Fam,
		PredecessorID:  orderID,
		RequiredStatus: orders.StatusConfirmed,
		SourceFK:       "order_id",
		DocNo:          alloc.Formatted,
		NewState:       StatusDraft,
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, orders.Fam, orderID, orders.StatusConfirmed)
	}
	return s.repo.Get(ctx, scope, header.ID)
}

// Update changes header fields while the invoice is in DRAFT.
func (s *Service) Update(ctx context.Context, scope shared.Scope, invoiceID int64, in UpdateInput) (*Invoice, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	set := map[string]any{}
	var fields []string
	if in.PartnerID != nil {
		set["partner_id"] = *in.PartnerID
		fields = append(fields, "partner_id")
	}
	if in.Currency != nil {
		set["currency"] = *in.Currency
		fields = append(fields, "currency")
	}
	if len(set) == 0 {
		return s.repo.Get(ctx, scope, invoiceID)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "invoice.updated",
		Set:        set,
		Where:      map[string]any{"id": invoiceID, "status": string(StatusDraft)},
		Payload:    audit.ChangePayload{Fields: fields},
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, invoiceID, StatusDraft)
	}
	return s.repo.Get(ctx, scope, invoiceID)
}

// UpsertLine writes one line while the invoice is in DRAFT.
func (s *Service) UpsertLine(ctx context.Context, scope shared.Scope, invoiceID int64, in LineInput) (*docflow.LineResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	qty, err := shared.ParseQuantity(in.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := shared.ParseMoney(in.UnitPrice)
	if err != nil {
		return nil, err
	}
	res, err := s.flow.UpsertLine(ctx, scope, Fam, docflow.UpsertLineInput{
		DocID: invoiceID, LineNo: in.LineNo, Description: in.Description,
		QtyMicros: qty, UnitPriceCents: price,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, invoiceID, StatusDraft)
	}
	return res, nil
}

// RemoveLine deletes one line while the invoice is in DRAFT.
func (s *Service) RemoveLine(ctx context.Context, scope shared.Scope, invoiceID, lineNo int64) (*docflow.LineResult, error) {
	res, err := s.flow.RemoveLine(ctx, scope, Fam, invoiceID, lineNo)
	if err != nil {
		return nil, err
	}
	if res == nil {
		doc, err := s.flow.Get(ctx, scope, Fam, invoiceID)
		if err != nil {
			return nil, err
		}
		if doc.Status != StatusDraft {
			return nil, &shared.StateError{Entity: Fam.Entity, Current: string(doc.Status), Required: string(StatusDraft)}
		}
		return nil, shared.ErrNotFound
	}
	return res, nil
}

// Issue moves DRAFT -> ISSUED and posts the receivable against revenue.
// The status flip and the posting are separate statements; re-invoking
// Issue on an already ISSUED invoice only retries the posting, so a crash
// between the two steps heals on the next call (or via the reconciliation
// scan).
func (s *Service) Issue(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	h, err := s.flow.Transition(ctx, scope, Fam, docflow.TransitionInput{
		DocID:        invoiceID,
		From:         []docflow.Status{StatusDraft},
		To:           StatusIssued,
		RequireLines: true,
		Set:          map[string]any{"issued_at": time.Now().UTC()},
	})
	if err != nil {
		return nil, err
	}
	inv, err := s.repo.Get(ctx, scope, invoiceID)
	if err != nil {
		return nil, err
	}
	if h == nil && inv.Status != StatusIssued {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, invoiceID, StatusDraft)
	}
	if err := s.postIssue(ctx, scope, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) postIssue(ctx context.Context, scope shared.Scope, inv *Invoice) error {
	_, err := s.books.Post(ctx, scope, ledger.PostInput{
		SourceType: SourceType,
		SourceID:   inv.ID,
		EventType:  ledger.EventInvoiceIssued,
		Memo:       inv.DocNo,
		Lines: []ledger.LineInput{
			{AccountCode: AccountReceivable, Direction: ledger.Debit, AmountCents: inv.TotalCents},
			{AccountCode: AccountRevenue, Direction: ledger.Credit, AmountCents: inv.TotalCents},
		},
	})
	if errors.Is(err, shared.ErrAlreadyPosted) {
		return nil
	}
	return err
}

// MarkPaid moves ISSUED -> PAID and posts cash against the receivable.
func (s *Service) MarkPaid(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	h, err := s.flow.Transition(ctx, scope, Fam, docflow.TransitionInput{
		DocID: invoiceID,
		From:  []docflow.Status{StatusIssued},
		To:    StatusPaid,
		Set:   map[string]any{"paid_at": time.Now().UTC()},
	})
	if err != nil {
		return nil, err
	}
	inv, err := s.repo.Get(ctx, scope, invoiceID)
	if err != nil {
		return nil, err
	}
	if h == nil && inv.Status != StatusPaid {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, invoiceID, StatusIssued)
	}
	_, err = s.books.Post(ctx, scope, ledger.PostInput{
		SourceType: SourceType,
		SourceID:   inv.ID,
		EventType:  ledger.EventInvoicePaid,
		Memo:       inv.DocNo,
		Lines: []ledger.LineInput{
			{AccountCode: AccountCash, Direction: ledger.Debit, AmountCents: inv.TotalCents},
			{AccountCode: AccountReceivable, Direction: ledger.Credit, AmountCents: inv.TotalCents},
		},
	})
	if err != nil && !errors.Is(err, shared.ErrAlreadyPosted) {
		return nil, err
	}
	return inv, nil
}

// Cancel voids the invoice. A DRAFT invoice just flips; an ISSUED one also
// posts a reversal of the issue entry.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	h, err := s.flow.Transition(ctx, scope, Fam, docflow.TransitionInput{
		DocID: invoiceID,
		From:  []docflow.Status{StatusDraft, StatusIssued},
		To:    docflow.StatusCancelled,
	})
	if err != nil {
		return nil, err
	}
	inv, err := s.repo.Get(ctx, scope, invoiceID)
	if err != nil {
		return nil, err
	}
	if h == nil && inv.Status != docflow.StatusCancelled {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, invoiceID, StatusDraft, StatusIssued)
	}
	if err := s.reverseIssue(ctx, scope, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// reverseIssue posts the cancellation reversal when an issue entry exists
// and has not been reversed yet. Re-drives fall through ErrAlreadyPosted.
func (s *Service) reverseIssue(ctx context.Context, scope shared.Scope, inv *Invoice) error {
	entries, err := s.books.ForSource(ctx, scope, SourceType, inv.ID)
	if err != nil {
		return err
	}
	var issueEntry *ledger.Entry
	for i := range entries {
		switch entries[i].EventType {
		case ledger.EventInvoiceIssued:
			issueEntry = &entries[i]
		case ledger.EventInvoiceCancelled:
			return nil
		}
	}
	if issueEntry == nil {
		return nil
	}
	_, err = s.books.Reverse(ctx, scope, issueEntry.ID, ledger.EventInvoiceCancelled, inv.DocNo)
	if errors.Is(err, shared.ErrAlreadyPosted) {
		return nil
	}
	return err
}

// Get returns an invoice with its lines and billing columns.
func (s *Service) Get(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, invoiceID)
}

// List pages through invoices.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter docflow.ListFilter, page shared.Page) ([]docflow.Header, error) {
	return s.flow.List(ctx, scope, Fam, filter, page)
}
