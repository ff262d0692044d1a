// Package creditnotes implements credit notes against issued invoices:
// DRAFT -> ISSUED, cancellable from both. The sum of issued credit notes
// can never exceed the invoice total. The cap is enforced inside the issue
// statement itself: the invoice row carries credited_cents and its guarded
// update is the serialization point, so two concurrent issues against the
// same invoice cannot jointly overshoot regardless of what either read
// beforehand.
package creditnotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Statuses of the credit note lifecycle.
const (
	StatusDraft  docflow.Status = "DRAFT"
	StatusIssued docflow.Status = "ISSUED"
)

// SourceType identifies credit notes as a ledger posting source.
const SourceType = "credit_note"

// Fam describes the credit note document family.
var Fam = docflow.Family{
	Entity:    audit.EntityCreditNote,
	Table:     "credit_notes",
	LineTable: "credit_note_lines",
	FK:        "credit_note_id",
	Mutable:   StatusDraft,
	Statuses:  []docflow.Status{StatusDraft, StatusIssued, docflow.StatusCancelled},
}

// CreateInput opens a draft credit note against an invoice. Partner and
// currency are taken from the invoice.
type CreateInput struct {
	InvoiceID int64 `json:"invoice_id" validate:"required,gt=0"`
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

// InvoiceReader resolves the credited invoice. Satisfied by the invoices
// repository.
type InvoiceReader interface {
	Get(ctx context.Context, scope shared.Scope, id int64) (*invoices.Invoice, error)
}

// Service implements credit note operations.
type Service struct {
	flow       docflow.API
	repo       Repository
	exec       Mutator
	numbers    Numberer
	books      Poster
	invoiceSrc InvoiceReader
	validate   *validator.Validate
}

// NewService constructs the service.
func NewService(flow docflow.API, repo Repository, exec Mutator, numbers Numberer, books Poster, invoiceSrc InvoiceReader) *Service {
	return &Service{
		flow: flow, repo: repo, exec: exec, numbers: numbers,
		books: books, invoiceSrc: invoiceSrc, validate: validator.New(),
	}
}

// Create opens an empty draft credit note against an issued or paid
// invoice.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*CreditNote, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	inv, err := s.invoiceSrc.Get(ctx, scope, in.InvoiceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, &shared.ReferenceError{Entity: Fam.Entity, Field: "invoice_id"}
		}
		return nil, err
	}
	if inv.Status != invoices.StatusIssued && inv.Status != invoices.StatusPaid {
		return nil, &shared.StateError{
			Entity:   invoices.Fam.Entity,
			Current:  string(inv.Status),
			Required: fmt.Sprintf("%s or %s", invoices.StatusIssued, invoices.StatusPaid),
		}
	}
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyCreditNote)
	if err != nil {
		return nil, err
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "credit_note.created",
		Values: map[string]any{
			"doc_no": alloc.Formatted, "partner_id": inv.PartnerID, "currency": inv.Currency,
			"status": string(StatusDraft), "subtotal_cents": int64(0), "total_cents": int64(0),
			"invoice_id": in.InvoiceID,
		},
		Payload: audit.SnapshotPayload{Values: map[string]any{"doc_no": alloc.Formatted, "invoice_id": in.InvoiceID}},
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, entity.ID())
}

// CreateFromInvoice builds a draft credit note from an issued invoice,
// copying every line. The cap still applies at issue time.
func (s *Service) CreateFromInvoice(ctx context.Context, scope shared.Scope, invoiceID int64) (*CreditNote, error) {
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyCreditNote)
	if err != nil {
		return nil, err
	}
	header, err := s.flow.CreateFromPredecessor(ctx, scope, Fam, docflow.ConvertInput{
		From:           invoices.Fam,
		PredecessorID:  invoiceID,
		RequiredStatus: invoices.StatusIssued,
		SourceFK:       "invoice_id",
		DocNo:          alloc.Formatted,
		NewState:       StatusDraft,
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, invoices.Fam, invoiceID, invoices.StatusIssued)
	}
	return s.repo.Get(ctx, scope, header.ID)
}

// UpsertLine writes one line while the credit note is in DRAFT.
func (s *Service) UpsertLine(ctx context.Context, scope shared.Scope, noteID int64, in LineInput) (*docflow.LineResult, error) {
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
		DocID: noteID, LineNo: in.LineNo, Description: in.Description,
		QtyMicros: qty, UnitPriceCents: price,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, noteID, StatusDraft)
	}
	return res, nil
}

// RemoveLine deletes one line while the credit note is in DRAFT.
func (s *Service) RemoveLine(ctx context.Context, scope shared.Scope, noteID, lineNo int64) (*docflow.LineResult, error) {
	res, err := s.flow.RemoveLine(ctx, scope, Fam, noteID, lineNo)
	if err != nil {
		return nil, err
	}
	if res == nil {
		doc, err := s.flow.Get(ctx, scope, Fam, noteID)
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

// Issue moves DRAFT -> ISSUED, reserving the amount against the invoice
// cap in the same statement, then posts the revenue contra entry. A guard
// failure is diagnosed precisely, including the cap.
func (s *Service) Issue(ctx context.Context, scope shared.Scope, noteID int64) (*CreditNote, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	note, err := s.repo.Issue(ctx, scope, noteID)
	if err != nil {
		return nil, err
	}
	if note == nil {
		if note, err = s.repo.Get(ctx, scope, noteID); err != nil {
			return nil, err
		}
		if note.Status != StatusIssued {
			return nil, s.diagnoseIssue(ctx, scope, note)
		}
		// Already issued: fall through and re-drive the posting.
	}
	if err := s.postIssue(ctx, scope, note); err != nil {
		return nil, err
	}
	return note, nil
}

// diagnoseIssue explains a failed issue: lifecycle state, missing lines,
// invoice state or the cap, in that order.
func (s *Service) diagnoseIssue(ctx context.Context, scope shared.Scope, note *CreditNote) error {
	if note.Status != StatusDraft {
		return &shared.StateError{Entity: Fam.Entity, Current: string(note.Status), Required: string(StatusDraft)}
	}
	if len(note.Lines) == 0 {
		return &shared.StateError{Entity: Fam.Entity, Current: string(note.Status), Required: string(StatusDraft), Reason: "document has no lines"}
	}
	inv, err := s.invoiceSrc.Get(ctx, scope, note.InvoiceID)
	if err != nil {
		return err
	}
	if inv.Status != invoices.StatusIssued && inv.Status != invoices.StatusPaid {
		return &shared.StateError{
			Entity:   invoices.Fam.Entity,
			Current:  string(inv.Status),
			Required: fmt.Sprintf("%s or %s", invoices.StatusIssued, invoices.StatusPaid),
		}
	}
	return &shared.CapError{
		InvoiceCents:   inv.TotalCents,
		IssuedCents:    inv.CreditedCents,
		RequestedCents: note.TotalCents,
		RemainingCents: inv.TotalCents - inv.CreditedCents,
	}
}

func (s *Service) postIssue(ctx context.Context, scope shared.Scope, note *CreditNote) error {
	_, err := s.books.Post(ctx, scope, ledger.PostInput{
		SourceType: SourceType,
		SourceID:   note.ID,
		EventType:  ledger.EventCreditNoteIssued,
		Memo:       note.DocNo,
		Lines: []ledger.LineInput{
			{AccountCode: invoices.AccountRevenue, Direction: ledger.Debit, AmountCents: note.TotalCents},
			{AccountCode: invoices.AccountReceivable, Direction: ledger.Credit, AmountCents: note.TotalCents},
		},
	})
	if errors.Is(err, shared.ErrAlreadyPosted) {
		return nil
	}
	return err
}

// Cancel voids the credit note. A DRAFT note just flips; an ISSUED one
// releases its reservation on the invoice in one statement and posts a
// reversal of the issue entry.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, noteID int64) (*CreditNote, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	h, err := s.flow.Transition(ctx, scope, Fam, docflow.TransitionInput{
		DocID: noteID, From: []docflow.Status{StatusDraft}, To: docflow.StatusCancelled,
	})
	if err != nil {
		return nil, err
	}
	if h != nil {
		return s.repo.Get(ctx, scope, noteID)
	}
	note, err := s.repo.Void(ctx, scope, noteID)
	if err != nil {
		return nil, err
	}
	if note == nil {
		if note, err = s.repo.Get(ctx, scope, noteID); err != nil {
			return nil, err
		}
		if note.Status != docflow.StatusCancelled {
			return nil, &shared.StateError{
				Entity:   Fam.Entity,
				Current:  string(note.Status),
				Required: fmt.Sprintf("%s or %s", StatusDraft, StatusIssued),
			}
		}
		// Already cancelled by an earlier partial run; re-drive the
		// reversal below.
	}
	if err := s.reverseIssue(ctx, scope, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) reverseIssue(ctx context.Context, scope shared.Scope, note *CreditNote) error {
	entries, err := s.books.ForSource(ctx, scope, SourceType, note.ID)
	if err != nil {
		return err
	}
	var issueEntry *ledger.Entry
	for i := range entries {
		switch entries[i].EventType {
		case ledger.EventCreditNoteIssued:
			issueEntry = &entries[i]
		case ledger.EventCreditNoteVoided:
			return nil
		}
	}
	if issueEntry == nil {
		return nil
	}
	_, err = s.books.Reverse(ctx, scope, issueEntry.ID, ledger.EventCreditNoteVoided, note.DocNo)
	if errors.Is(err, shared.ErrAlreadyPosted) {
		return nil
	}
	return err
}

// Get returns a credit note with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, noteID int64) (*CreditNote, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, noteID)
}

// List pages through credit notes.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter docflow.ListFilter, page shared.Page) ([]docflow.Header, error) {
	return s.flow.List(ctx, scope, Fam, filter, page)
}
