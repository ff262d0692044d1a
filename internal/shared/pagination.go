package shared

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Cursor pagination over monotonically increasing ids. The cursor is an
// opaque base64 token wrapping the last id the client has seen; listings
// return rows with id > cursor in ascending order.

// DefaultPageSize applies when a listing request omits the limit.
const DefaultPageSize = 50

// MaxPageSize bounds a single page.
const MaxPageSize = 500

// Page describes one page of a cursor-paginated listing.
type Page struct {
	AfterID int64
	Limit   int
}

// DecodeCursor parses an opaque cursor token. An empty token means the
// first page.
func DecodeCursor(token string, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := Page{Limit: limit}
	if token == "" {
		return page, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Page{}, fmt.Errorf("invalid cursor: %w", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id < 0 {
		return Page{}, fmt.Errorf("invalid cursor")
	}
	page.AfterID = id
	return page, nil
}

// EncodeCursor builds the token pointing just past the given id.
func EncodeCursor(lastID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(lastID, 10)))
}
