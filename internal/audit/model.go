// Package audit models the append-only compliance trail. Records are written
// exclusively by the atomic primitives (internal/mutate, internal/docflow,
// internal/ledger) in the same statement as the entity mutation they
// describe; this package owns the record shape, the closed set of payload
// shapes, and the read API.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable audit row. EntityID is stored as text so master
// data, documents and ledger entries can share one table.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   int64           `json:"tenant_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	EventType  string          `json:"event_type"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	TraceID    *uuid.UUID      `json:"trace_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	// Seq is a monotonically increasing insertion counter; listings page on
	// it because record ids are opaque uuids.
	Seq int64 `json:"seq"`
}

// Entity types used across the core.
const (
	EntityUnit        = "unit"
	EntityPartner     = "partner"
	EntitySequence    = "sequence"
	EntityQuote       = "quote"
	EntityOrder       = "order"
	EntityInvoice     = "invoice"
	EntityCreditNote  = "credit_note"
	EntityLedgerEntry = "ledger_entry"
)
