// Package docflow implements the line-aggregate mutation engine shared by
// every document family (quotes, orders, invoices, credit notes). Each
// operation is one SQL statement chaining data-modifying CTEs: the parent
// state guard, the line write, the aggregate recompute and the audit record
// either all commit together or touch nothing. A failed guard surfaces as a
// nil result, not an error; callers re-query to produce a precise message.
package docflow

import (
	"fmt"
	"regexp"
)

// Status is a document lifecycle state.
type Status string

// StatusCancelled is the shared terminal state across families.
const StatusCancelled Status = "CANCELLED"

// Family describes one document family's tables and status vocabulary.
// All header tables share the common column set the engine reads
// (doc_no, partner_id, currency, status, subtotal_cents, total_cents);
// family-specific columns live alongside and are managed by the family's
// own package.
type Family struct {
	// Entity is the audit entity type, e.g. "quote".
	Entity string
	// Table and LineTable are the header and line table names.
	Table     string
	LineTable string
	// FK is the line table's column referencing the header.
	FK string
	// Mutable is the only state in which lines may change.
	Mutable Status
	// Statuses is the full vocabulary, used to validate transitions.
	Statuses []Status
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate rejects malformed family descriptors. Families are package-level
// constants; this runs once at wiring time.
func (f Family) Validate() error {
	for _, ident := range []string{f.Table, f.LineTable, f.FK} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("docflow: invalid identifier %q in family %s", ident, f.Entity)
		}
	}
	if f.Entity == "" {
		return fmt.Errorf("docflow: family entity required")
	}
	if f.Mutable == "" {
		return fmt.Errorf("docflow: family %s needs a mutable status", f.Entity)
	}
	if !f.has(f.Mutable) {
		return fmt.Errorf("docflow: family %s mutable status %s not in vocabulary", f.Entity, f.Mutable)
	}
	return nil
}

func (f Family) has(s Status) bool {
	for _, known := range f.Statuses {
		if known == s {
			return true
		}
	}
	return false
}
