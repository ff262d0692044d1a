package audit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the closed set of audit payload shapes, keyed by kind. Each
// mutation validates its payload before the statement runs; a payload that
// fails validation aborts the mutation, so no record is ever stored with a
// shape outside this set.
type Payload interface {
	Kind() string
	Validate() error
}

// Marshal validates and serializes a payload, stamping its kind.
func Marshal(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("audit: payload required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("audit: invalid %s payload: %w", p.Kind(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(p.Kind())
	m["kind"] = kind
	return json.Marshal(m)
}

// SnapshotPayload records entity creation. The stored row itself is merged
// in by the statement under the "entity" key.
type SnapshotPayload struct {
	Values map[string]any `json:"values"`
}

func (SnapshotPayload) Kind() string { return "snapshot" }

func (p SnapshotPayload) Validate() error {
	if len(p.Values) == 0 {
		return errors.New("values required")
	}
	return nil
}

// ChangePayload records a header update. Before/after row images are merged
// in by the statement under "before" and "after".
type ChangePayload struct {
	Fields []string `json:"fields"`
}

func (ChangePayload) Kind() string { return "change" }

func (p ChangePayload) Validate() error {
	if len(p.Fields) == 0 {
		return errors.New("changed fields required")
	}
	return nil
}

// LinePayload records a line upsert or removal on a document.
type LinePayload struct {
	LineNo         *int64 `json:"line_no,omitempty"`
	Description    string `json:"description,omitempty"`
	QuantityMicros int64  `json:"quantity_micros,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
	TotalCents     int64  `json:"total_cents,omitempty"`
	Removed        bool   `json:"removed,omitempty"`
}

func (LinePayload) Kind() string { return "line" }

func (p LinePayload) Validate() error {
	if p.Removed {
		if p.LineNo == nil {
			return errors.New("line_no required for removal")
		}
		return nil
	}
	if p.QuantityMicros <= 0 {
		return errors.New("quantity must be positive")
	}
	if p.UnitPriceCents < 0 {
		return errors.New("unit price must not be negative")
	}
	return nil
}

// TransitionPayload records a lifecycle status change. The prior status is
// merged in by the statement under "from", read from the row image.
type TransitionPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

func (TransitionPayload) Kind() string { return "transition" }

func (p TransitionPayload) Validate() error {
	if p.To == "" {
		return errors.New("to required")
	}
	return nil
}

// ConversionPayload records a document created from a predecessor. The
// copied line count is filled in by the statement under "lines_copied".
type ConversionPayload struct {
	SourceType string `json:"source_type"`
	SourceID   int64  `json:"source_id"`
}

func (ConversionPayload) Kind() string { return "conversion" }

func (p ConversionPayload) Validate() error {
	if p.SourceType == "" || p.SourceID <= 0 {
		return errors.New("source reference required")
	}
	return nil
}

// PostingPayload records a ledger entry posted for a source document.
type PostingPayload struct {
	EntryNo     string `json:"entry_no"`
	SourceType  string `json:"source_type"`
	SourceID    int64  `json:"source_id"`
	EventType   string `json:"event_type"`
	DebitCents  int64  `json:"debit_cents"`
	CreditCents int64  `json:"credit_cents"`
	Reversal    bool   `json:"reversal,omitempty"`
}

func (PostingPayload) Kind() string { return "posting" }

func (p PostingPayload) Validate() error {
	if p.EntryNo == "" {
		return errors.New("entry number required")
	}
	if p.SourceType == "" || p.SourceID <= 0 {
		return errors.New("source reference required")
	}
	if p.DebitCents != p.CreditCents {
		return errors.New("posting payload must be balanced")
	}
	if p.DebitCents <= 0 {
		return errors.New("posting amount must be positive")
	}
	return nil
}
