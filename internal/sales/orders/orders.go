// Package orders implements the sales order lifecycle: DRAFT -> CONFIRMED,
// cancellable while DRAFT. Orders are created empty or from an accepted
// quote, carrying the quote's lines and totals over. A confirmed order is
// the entry point for invoicing.
package orders

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/sales/quotes"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Statuses of the order lifecycle.
const (
	StatusDraft     docflow.Status = "DRAFT"
	StatusConfirmed docflow.Status = "CONFIRMED"
)

// Fam describes the order document family.
var Fam = docflow.Family{
	Entity:    audit.EntityOrder,
	Table:     "orders",
	LineTable: "order_lines",
	FK:        "order_id",
	Mutable:   StatusDraft,
	Statuses:  []docflow.Status{StatusDraft, StatusConfirmed, docflow.StatusCancelled},
}

// CreateInput describes a new standalone order.
type CreateInput struct {
	PartnerID int64  `json:"partner_id" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3,uppercase"`
}

// LineInput is a line upsert request, decimal strings at the boundary.
type LineInput struct {
	LineNo      *int64 `json:"line_no" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// UpdateInput carries header fields changeable while the order is in DRAFT.
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

// Service implements order operations on the docflow engine.
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

// Create opens an empty draft order.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*docflow.Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyOrder)
	if err != nil {
		return nil, err
	}
	entity, err := s.exec.InsertWithAudit(ctx, scope, mutate.InsertSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "order.created",
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

// CreateFromQuote builds a draft order from an accepted quote, copying its
// lines and totals. The quote must be ACCEPTED and non-empty; anything else
// is diagnosed the usual way.
func (s *Service) CreateFromQuote(ctx context.Context, scope shared.Scope, quoteID int64) (*docflow.Document, error) {
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyOrder)
	if err != nil {
		return nil, err
	}
	header, err := s.flow.CreateFromPredecessor(ctx, scope, Fam, docflow.ConvertInput{
		From:           quotes.Fam,
		PredecessorID:  quoteID,
		RequiredStatus: quotes.StatusAccepted,
		SourceFK:       "quote_id",
		DocNo:          alloc.Formatted,
		NewState:       StatusDraft,
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, quotes.Fam, quoteID, quotes.StatusAccepted)
	}
	return s.flow.Get(ctx, scope, Fam, header.ID)
}

// Update changes header fields while the order is in DRAFT.
func (s *Service) Update(ctx context.Context, scope shared.Scope, orderID int64, in UpdateInput) (*docflow.Document, error) {
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
		return s.flow.Get(ctx, scope, Fam, orderID)
	}
	entity, err := s.exec.UpdateWithAudit(ctx, scope, mutate.UpdateSpec{
		Table:      Fam.Table,
		EntityType: Fam.Entity,
		EventType:  "order.updated",
		Set:        set,
		Where:      map[string]any{"id": orderID, "status": string(StatusDraft)},
		Payload:    audit.ChangePayload{Fields: fields},
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, orderID, StatusDraft)
	}
	return s.flow.Get(ctx, scope, Fam, orderID)
}

// UpsertLine writes one line while the order is in DRAFT.
func (s *Service) UpsertLine(ctx context.Context, scope shared.Scope, orderID int64, in LineInput) (*docflow.LineResult, error) {
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
		DocID: orderID, LineNo: in.LineNo, Description: in.Description,
		QtyMicros: qty, UnitPriceCents: price,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, docflow.Diagnose(ctx, s.flow, scope, Fam, orderID, StatusDraft)
	}
	return res, nil
}

// RemoveLine deletes one line while the order is in DRAFT.
func (s *Service) RemoveLine(ctx context.Context, scope shared.Scope, orderID, lineNo int64) (*docflow.LineResult, error) {
	res, err := s.flow.RemoveLine(ctx, scope, Fam, orderID, lineNo)
	if err != nil {
		return nil, err
	}
	if res == nil {
		doc, err := s.flow.Get(ctx, scope, Fam, orderID)
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

// Confirm moves DRAFT -> CONFIRMED. An empty order cannot be confirmed.
func (s *Service) Confirm(ctx context.Context, scope shared.Scope, orderID int64) (*docflow.Header, error) {
	return s.transition(ctx, scope, docflow.TransitionInput{
		DocID: orderID, From: []docflow.Status{StatusDraft}, To: StatusConfirmed, RequireLines: true,
	})
}

// Cancel moves DRAFT or CONFIRMED -> CANCELLED. Invoices already created
// from the order are unaffected and are cancelled individually.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, orderID int64) (*docflow.Header, error) {
	return s.transition(ctx, scope, docflow.TransitionInput{
		DocID: orderID, From: []docflow.Status{StatusDraft, StatusConfirmed}, To: docflow.StatusCancelled,
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

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, orderID int64) (*docflow.Document, error) {
	return s.flow.Get(ctx, scope, Fam, orderID)
}

// List pages through orders.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter docflow.ListFilter, page shared.Page) ([]docflow.Header, error) {
	return s.flow.List(ctx, scope, Fam, filter, page)
}
