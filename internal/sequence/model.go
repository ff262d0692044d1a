// Package sequence hands out unique, formatted document numbers. One row per
// (tenant, key); the hot-path allocation is a single UPDATE whose branch
// logic and RETURNING clause are evaluated together, so the value a caller
// receives is always consistent with the persisted counter state.
package sequence

import "time"

// Sequence is the administrative view of one counter.
type Sequence struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Prefix      string    `json:"prefix"`
	Padding     int       `json:"padding"`
	YearReset   bool      `json:"year_reset"`
	CurrentYear int       `json:"current_year"`
	NextValue   int64     `json:"next_value"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Allocation is one handed-out number.
type Allocation struct {
	Raw       int64  `json:"raw"`
	Formatted string `json:"formatted"`
}

// Well-known sequence keys.
const (
	KeyQuote      = "quote"
	KeyOrder      = "order"
	KeyInvoice    = "invoice"
	KeyCreditNote = "credit_note"
	KeyLedger     = "ledger"
)
