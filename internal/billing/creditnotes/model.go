package creditnotes

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

// CreditNote is a credit note header with its billing columns and lines.
type CreditNote struct {
	docflow.Header
	InvoiceID int64          `json:"invoice_id"`
	IssuedAt  *time.Time     `json:"issued_at,omitempty"`
	Lines     []docflow.Line `json:"lines"`
}
