package docflow

import (
	"context"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Diagnose turns a nil engine result into a precise error by re-reading the
// document. The re-read happens after the failed statement, so the document
// may have moved again in between; the message reflects what is visible now.
func Diagnose(ctx context.Context, api API, scope shared.Scope, fam Family, docID int64, required ...Status) error {
	doc, err := api.Get(ctx, scope, fam, docID)
	if err != nil {
		// Covers absent ids and ids owned by another tenant alike.
		return err
	}
	names := make([]string, len(required))
	inRequired := false
	for i, s := range required {
		names[i] = string(s)
		if doc.Status == s {
			inRequired = true
		}
	}
	st := &shared.StateError{
		Entity:   fam.Entity,
		Current:  string(doc.Status),
		Required: strings.Join(names, " or "),
	}
	if inRequired {
		// Status was fine, so the only guard left is the line requirement.
		st.Reason = "document has no lines"
	}
	return st
}
