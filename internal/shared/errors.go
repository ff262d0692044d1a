package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both an absent entity and an entity owned by a
	// different tenant. The two cases are deliberately indistinguishable so
	// callers cannot probe for existence across tenants.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyPosted indicates a ledger entry already exists for the
	// same source document and event.
	ErrAlreadyPosted = errors.New("entry already posted for source event")
)

// StateError reports a rejected lifecycle transition or line mutation.
// Current may be empty when the failed guard could not be re-read.
type StateError struct {
	Entity   string
	Current  string
	Required string
	Reason   string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("%s must be %s, currently %s", e.Entity, e.Required, e.Current)
}

// ConflictError reports a unique-constraint violation on a named field.
type ConflictError struct {
	Entity string
	Field  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already taken", e.Entity, e.Field)
}

// ReferenceError reports a foreign key pointing at a missing target,
// including a target owned by another tenant.
type ReferenceError struct {
	Entity string
	Field  string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s references an invalid %s", e.Entity, e.Field)
}

// UnbalancedError reports a ledger entry whose debits and credits differ.
type UnbalancedError struct {
	DebitCents  int64
	CreditCents int64
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("unbalanced entry: debits %d != credits %d", e.DebitCents, e.CreditCents)
}

// CapError reports a credit note that would exceed its invoice total.
// All amounts are minor currency units.
type CapError struct {
	InvoiceCents   int64
	IssuedCents    int64
	RequestedCents int64
	RemainingCents int64
}

func (e *CapError) Error() string {
	return fmt.Sprintf("credit exceeds invoice total: invoice %d, already issued %d, requested %d, remaining %d",
		e.InvoiceCents, e.IssuedCents, e.RequestedCents, e.RemainingCents)
}
