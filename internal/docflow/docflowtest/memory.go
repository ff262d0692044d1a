// Package docflowtest provides an in-memory engine double for family
// service tests. It mirrors the statement semantics: state guards return
// nil results, aggregates recompute on every line write, and each mutation
// appends an event to the log.
package docflowtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memDoc struct {
	header docflow.Header
	lines  map[int64]docflow.Line
	// extra holds family-specific columns written via TransitionInput.Set
	// or seeded by tests.
	extra map[string]any
}

// MemoryEngine implements docflow.API entirely in memory.
type MemoryEngine struct {
	mu     sync.Mutex
	docs   map[string]*memDoc
	nextID int64
	// Events records "<entity>.<event> doc=<id>" per mutation, in order.
	Events []string
}

// NewMemoryEngine returns an empty engine double.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{docs: map[string]*memDoc{}, nextID: 1}
}

var _ docflow.API = (*MemoryEngine)(nil)

func key(tenantID int64, entity string, id int64) string {
	return fmt.Sprintf("%d/%s/%d", tenantID, entity, id)
}

// Seed inserts a document with lines and returns its id. The header's ID
// field is ignored; ids are assigned by the double.
func (m *MemoryEngine) Seed(tenantID int64, fam docflow.Family, h docflow.Header, lines ...docflow.Line) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	h.ID = id
	h.CreatedAt = time.Now().UTC()
	h.UpdatedAt = h.CreatedAt
	doc := &memDoc{header: h, lines: map[int64]docflow.Line{}, extra: map[string]any{}}
	for _, l := range lines {
		if l.ID == 0 {
			l.ID = m.nextID
			m.nextID++
		}
		doc.lines[l.LineNo] = l
	}
	recompute(doc)
	m.docs[key(tenantID, fam.Entity, id)] = doc
	return id
}

// Extra returns a family-specific column written through Transition.
func (m *MemoryEngine) Extra(tenantID int64, fam docflow.Family, id int64, col string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[key(tenantID, fam.Entity, id)]; ok {
		return doc.extra[col]
	}
	return nil
}

// SetExtra seeds a family-specific column.
func (m *MemoryEngine) SetExtra(tenantID int64, fam docflow.Family, id int64, col string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[key(tenantID, fam.Entity, id)]; ok {
		doc.extra[col] = v
	}
}

func (m *MemoryEngine) UpsertLine(ctx context.Context, scope shared.Scope, fam docflow.Family, in docflow.UpsertLineInput) (*docflow.LineResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key(scope.TenantID, fam.Entity, in.DocID)]
	if !ok || doc.header.Status != fam.Mutable {
		return nil, nil
	}
	lineNo := int64(0)
	if in.LineNo != nil {
		lineNo = *in.LineNo
	} else {
		for n := range doc.lines {
			if n > lineNo {
				lineNo = n
			}
		}
		lineNo++
	}
	line, exists := doc.lines[lineNo]
	if !exists {
		line = docflow.Line{ID: m.nextID, LineNo: lineNo, CreatedAt: time.Now().UTC()}
		m.nextID++
	}
	line.Description = in.Description
	line.QtyMicros = in.QtyMicros
	line.UnitPriceCents = in.UnitPriceCents
	line.TotalCents = shared.LineTotalCents(in.QtyMicros, in.UnitPriceCents)
	line.UpdatedAt = time.Now().UTC()
	doc.lines[lineNo] = line
	recompute(doc)
	m.Events = append(m.Events, fmt.Sprintf("%s.line_upserted doc=%d", fam.Entity, in.DocID))
	return &docflow.LineResult{Header: doc.header, LineID: line.ID, LineNo: lineNo}, nil
}

func (m *MemoryEngine) RemoveLine(ctx context.Context, scope shared.Scope, fam docflow.Family, docID, lineNo int64) (*docflow.LineResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key(scope.TenantID, fam.Entity, docID)]
	if !ok || doc.header.Status != fam.Mutable {
		return nil, nil
	}
	line, ok := doc.lines[lineNo]
	if !ok {
		return nil, nil
	}
	delete(doc.lines, lineNo)
	recompute(doc)
	m.Events = append(m.Events, fmt.Sprintf("%s.line_removed doc=%d", fam.Entity, docID))
	return &docflow.LineResult{Header: doc.header, LineID: line.ID, LineNo: lineNo}, nil
}

func (m *MemoryEngine) Transition(ctx context.Context, scope shared.Scope, fam docflow.Family, in docflow.TransitionInput) (*docflow.Header, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key(scope.TenantID, fam.Entity, in.DocID)]
	if !ok {
		return nil, nil
	}
	allowed := false
	for _, s := range in.From {
		if doc.header.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, nil
	}
	if in.RequireLines && len(doc.lines) == 0 {
		return nil, nil
	}
	doc.header.Status = in.To
	doc.header.UpdatedAt = time.Now().UTC()
	for col, v := range in.Set {
		doc.extra[col] = v
	}
	m.Events = append(m.Events, fmt.Sprintf("%s.%s doc=%d", fam.Entity, strings.ToLower(string(in.To)), in.DocID))
	h := doc.header
	return &h, nil
}

func (m *MemoryEngine) CreateFromPredecessor(ctx context.Context, scope shared.Scope, fam docflow.Family, in docflow.ConvertInput) (*docflow.Header, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pred, ok := m.docs[key(scope.TenantID, in.From.Entity, in.PredecessorID)]
	if !ok || pred.header.Status != in.RequiredStatus || len(pred.lines) == 0 {
		return nil, nil
	}
	id := m.nextID
	m.nextID++
	now := time.Now().UTC()
	doc := &memDoc{
		header: docflow.Header{
			ID:            id,
			DocNo:         in.DocNo,
			PartnerID:     pred.header.PartnerID,
			Currency:      pred.header.Currency,
			Status:        in.NewState,
			SubtotalCents: pred.header.SubtotalCents,
			TotalCents:    pred.header.TotalCents,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		lines: map[int64]docflow.Line{},
		extra: map[string]any{in.SourceFK: in.PredecessorID},
	}
	for n, l := range pred.lines {
		l.ID = m.nextID
		m.nextID++
		doc.lines[n] = l
	}
	m.docs[key(scope.TenantID, fam.Entity, id)] = doc
	m.Events = append(m.Events, fmt.Sprintf("%s.created_from_%s doc=%d", fam.Entity, in.From.Entity, id))
	h := doc.header
	return &h, nil
}

func (m *MemoryEngine) Get(ctx context.Context, scope shared.Scope, fam docflow.Family, docID int64) (*docflow.Document, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key(scope.TenantID, fam.Entity, docID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := docflow.Document{Header: doc.header}
	nos := make([]int64, 0, len(doc.lines))
	for n := range doc.lines {
		nos = append(nos, n)
	}
	sort.Slice(nos, func(i, j int) bool { return nos[i] < nos[j] })
	for _, n := range nos {
		out.Lines = append(out.Lines, doc.lines[n])
	}
	return &out, nil
}

func (m *MemoryEngine) List(ctx context.Context, scope shared.Scope, fam docflow.Family, filter docflow.ListFilter, page shared.Page) ([]docflow.Header, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d/%s/", scope.TenantID, fam.Entity)
	var headers []docflow.Header
	for k, doc := range m.docs {
		if !strings.HasPrefix(k, prefix) || doc.header.ID <= page.AfterID {
			continue
		}
		if filter.Status != nil && doc.header.Status != *filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(doc.header.DocNo), strings.ToLower(filter.Search)) {
			continue
		}
		headers = append(headers, doc.header)
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].ID < headers[j].ID })
	if page.Limit > 0 && len(headers) > page.Limit {
		headers = headers[:page.Limit]
	}
	return headers, nil
}

func recompute(doc *memDoc) {
	var total int64
	for _, l := range doc.lines {
		total += l.TotalCents
	}
	doc.header.SubtotalCents = total
	doc.header.TotalCents = total
}
