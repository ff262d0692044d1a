package docflow

import "time"

// Header is the common view of a document header row. Family packages layer
// their extra columns on top with their own queries.
type Header struct {
	ID            int64     `json:"id"`
	DocNo         string    `json:"doc_no"`
	PartnerID     int64     `json:"partner_id"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	SubtotalCents int64     `json:"subtotal_cents"`
	TotalCents    int64     `json:"total_cents"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Line is one document line. LineNo is parent-scoped and stable; the
// header's totals always equal the sum of its lines' totals.
type Line struct {
	ID             int64     `json:"id"`
	LineNo         int64     `json:"line_no"`
	Description    string    `json:"description"`
	QtyMicros      int64     `json:"qty_micros"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Document is a header with its lines.
type Document struct {
	Header
	Lines []Line `json:"lines"`
}

// LineResult reports a successful line mutation: the recomputed header and
// the affected line's identity.
type LineResult struct {
	Header Header `json:"header"`
	LineID int64  `json:"line_id"`
	LineNo int64  `json:"line_no"`
}

// UpsertLineInput describes one line write. A nil LineNo appends at
// max(line_no)+1; a set LineNo updates in place or inserts at that number.
type UpsertLineInput struct {
	DocID          int64
	LineNo         *int64
	Description    string
	QtyMicros      int64
	UnitPriceCents int64
}

// TransitionInput describes a guarded status change. Set carries optional
// family-specific columns written alongside the status (issued_at and the
// like); keys are validated identifiers, values always bound.
type TransitionInput struct {
	DocID        int64
	From         []Status
	To           Status
	RequireLines bool
	Set          map[string]any
}

// ConvertInput describes creating a successor document from a predecessor in
// a different family, copying every line.
type ConvertInput struct {
	From           Family
	PredecessorID  int64
	RequiredStatus Status
	// SourceFK is the successor header column referencing the predecessor.
	SourceFK string
	DocNo    string
	NewState Status
}

// ListFilter narrows a document listing.
type ListFilter struct {
	Status *Status
	// Search matches doc_no case-insensitively as a substring.
	Search string
}
