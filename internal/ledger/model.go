package ledger

import "time"

// Direction is the side of a ledger line.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Well-known event types written by the billing services.
const (
	EventInvoiceIssued     = "invoice_issued"
	EventInvoicePaid       = "invoice_paid"
	EventInvoiceCancelled  = "invoice_cancelled"
	EventCreditNoteIssued  = "credit_note_issued"
	EventCreditNoteVoided  = "credit_note_voided"
)

// Entry is an immutable journal entry header. Entries are append-only;
// corrections happen through reversal entries, never updates.
type Entry struct {
	ID         int64      `json:"id"`
	EntryNo    string     `json:"entry_no"`
	SourceType string     `json:"source_type"`
	SourceID   int64      `json:"source_id"`
	EventType  string     `json:"event_type"`
	Memo       string     `json:"memo,omitempty"`
	ReversalOf *int64     `json:"reversal_of,omitempty"`
	PostedAt   time.Time  `json:"posted_at"`
	Lines      []Line     `json:"lines,omitempty"`
}

// Line is one side of an entry. Amounts are positive cents; the direction
// carries the sign.
type Line struct {
	ID          int64     `json:"id"`
	LineNo      int64     `json:"line_no"`
	AccountCode string    `json:"account_code"`
	Direction   Direction `json:"direction"`
	AmountCents int64     `json:"amount_cents"`
}

// LineInput is a line to post.
type LineInput struct {
	AccountCode string    `json:"account_code" validate:"required,max=32"`
	Direction   Direction `json:"direction" validate:"required,oneof=DEBIT CREDIT"`
	AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
}

// PostInput describes a new entry. (SourceType, SourceID, EventType) is
// unique per tenant, which makes posting idempotent under retries.
type PostInput struct {
	SourceType string      `json:"source_type" validate:"required,max=32"`
	SourceID   int64       `json:"source_id" validate:"required,gt=0"`
	EventType  string      `json:"event_type" validate:"required,max=40"`
	Memo       string      `json:"memo" validate:"max=255"`
	Lines      []LineInput `json:"lines" validate:"required,min=2,dive"`
}
