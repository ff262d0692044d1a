// Package quotes implements the sales quote lifecycle:
// DRAFT -> SENT -> ACCEPTED, cancellable while DRAFT or SENT. Lines may
// only change in DRAFT. An accepted quote is the entry point for order
// conversion.
package quotes

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Statuses of the quote lifecycle.
const (
	StatusDraft    docflow.Status = "DRAFT"
	StatusSent     docflow.Status = "SENT"
	StatusAccepted docflow.Status = "ACCEPTED"
)

// Fam describes the quote document family.
var Fam = docflow.Family{
	Entity:    audit.EntityQuote,
	Table:     "quotes",
	LineTable: "quote_lines",
	FK:        "quote_id",
	Mutable:   StatusDraft,
	Statuses:  []docflow.Status{StatusDraft, StatusSent, StatusAccepted, docflow.StatusCancelled},
}

// CreateInput describes a new quote.
type CreateInput struct {
	PartnerID int64  `json:"partner_id" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3,uppercase"`
}

// LineInput is a line upsert request. Quantity and unit price arrive as
// decimal strings and are converted at this boundary.
type LineInput struct {
	LineNo      *int64 `json:"line_no" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// UpdateInput carries header fields changeable while the quote is in DRAFT.
type UpdateInput struct {
	PartnerID *int64  `json:"partner_id" validate:"omitempty,gt=0"`
	Currency  *string `json:"currency" validate:"omitempty,len=3,uppercase"`
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

// Service implements quote operations on the docflow engine.
type Service struct {
	flow     docflow.API
	exec     Mutator
	numbers  Numberer
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(flow docflow.API, exec Mutator, numbers Numberer) *Service {
	return &Service{flow: flow, exec: exec, numbers: numbers, validate: validator.New()}
}

// Create opens an empty draft quote with a freshly allocated number.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*docflow.Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyQuote)
	if err != nil {
		return nil, err
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "quote.created",
		Values: map[string]any{
			"doc_no": alloc.Formatted, "partner_id": in.PartnerID, "currency": in.Currency,
			"status": string(StatusDraft), "subtotal_cents": int64(0), "total_cents": int64(0),
		},
		Payload: audit.SnapshotPayload{Values: map[string]any{"doc_no": alloc.Formatted, "partner_id": in.PartnerID}},
	})
	if err != nil {
		return nil, err
	}
	return s.flow.Get(ctx, scope, Fam, entity.ID())
}

// Update changes header fields while the quote is in DRAFT. The status
// guard rides in the update filter, so a non-draft quote is untouched.
func (s *Service) Update(ctx context.Context, scope shared.Scope, quoteID int64, in UpdateInput) (*docflow.Document, error) {
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
		return s.flow.Get(ctx, scope, Fam, quoteID)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "quote.updated",
		Set:        set,
		Where:      map[string]any{"id": quoteID, "status": string(StatusDraft)},
		Payload:    audit.ChangePayload{Fields: fields},
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, quoteID, StatusDraft)
	}
	return s.flow.Get(ctx, scope, Fam, quoteID)
}

// UpsertLine writes one line while the quote is in DRAFT.
func (s *Service) UpsertLine(ctx context.Context, scope shared.Scope, quoteID int64, in LineInput) (*docflow.LineResult, error) {
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
		DocID: quoteID, LineNo: in.LineNo, Description: in.Description,
		QtyMicros: qty, UnitPriceCents: price,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, quoteID, StatusDraft)
	}
	return res, nil
}

// RemoveLine deletes one line while the quote is in DRAFT.
func (s *Service) RemoveLine(ctx context.Context, scope shared.Scope, quoteID, lineNo int64) (*docflow.LineResult, error) {
	res, err := s.flow.RemoveLine(ctx, scope, Fam, quoteID, lineNo)
	if err != nil {
		return nil, err
	}
	if res == nil {
		doc, err := s.flow.Get(ctx, scope, Fam, quoteID)
		if err != nil {
			return nil, err
		}
		if doc.Status != StatusDraft {
			return nil, &shared.StateError{Entity: Fam.Entity, Current: string(doc.Status), Required: string(StatusDraft)}
		}
		// Status guard held, the line simply does not exist.
		return nil, shared.ErrNotFound
	}
	return res, nil
}

// Send moves DRAFT -> SENT. An empty quote cannot be sent.
func (s *Service) Send(ctx context.Context, scope shared.Scope, quoteID int64) (*docflow.Header, error) {
	return s.transition(ctx, scope, docflow.TransitionInput{
		DocID: quoteID, From: []docflow.Status{StatusDraft}, To: StatusSent, RequireLines: true,
	})
}

// Accept moves SENT -> ACCEPTED.
func (s *Service) Accept(ctx context.Context, scope shared.Scope, quoteID int64) (*docflow.Header, error) {
	return s.transition(ctx, scope, docflow.TransitionInput{
		DocID: quoteID, From: []docflow.Status{StatusSent}, To: StatusAccepted,
	})
}

// Cancel moves DRAFT or SENT -> CANCELLED. Accepting and cancelling are
// mutually exclusive endpoints of the lifecycle.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, quoteID int64) (*docflow.Header, error) {
	return s.transition(ctx, scope, docflow.TransitionInput{
		DocID: quoteID, From: []docflow.Status{StatusDraft, StatusSent}, To: docflow.StatusCancelled,
	})
}

func (s *Service) transition(ctx context.Context, scope shared.Scope, in docflow.TransitionInput) (*docflow.Header, error) {
	h, err := s.flow.Transition(ctx, scope, Fam, in)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, in.DocID, in.From...)
	}
	return h, nil
}

// Get returns a quote with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, quoteID int64) (*docflow.Document, error) {
	return s.flow.Get(ctx, scope, Fam, quoteID)
}

// List pages through quotes.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter docflow.ListFilter, page shared.Page) ([]docflow.Header, error) {
	return s.flow.List(ctx, scope, Fam, filter, page)
}
