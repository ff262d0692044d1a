// Package ledger implements the double-entry journal. Entries are balanced,
// append-only and posted in a single statement together with their lines
// and audit record. Corrections are reversal entries referencing the
// original.
package ledger

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Numberer allocates ledger entry numbers. Satisfied by *sequence.Service.
type Numberer interface {
	Next(ctx context.Context, scope shared.Scope, key string) (sequence.Allocation, error)
}

// Service validates and posts journal entries.
type Service struct {
	repo     Repository
	numbers  Numberer
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(repo Repository, numbers Numberer) *Service {
	return &Service{repo: repo, numbers: numbers, validate: validator.New()}
}

// Post writes a balanced entry. The balance check runs before the entry
// number is consumed; an unbalanced input never burns a number. A repeated
// (source, event) post returns ErrAlreadyPosted, which re-drive callers
// treat as success.
func (s *Service) Post(ctx context.Context, scope shared.Scope, in PostInput) (*Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	debits, credits, err := balance(in.Lines)
	if err != nil {
		return nil, err
	}

	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyLedger)
	if err != nil {
		return nil, fmt.Errorf("allocate entry number: %w", err)
	}
	return s.post(ctx, scope, in, alloc.Formatted, nil, debits, credits)
}

// Reverse posts a mirror entry for an existing one, flipping every line's
// direction. The event type distinguishes the reversal from the original so
// the idempotency index admits it.
func (s *Service) Reverse(ctx context.Context, scope shared.Scope, entryID int64, eventType, memo string) (*Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if eventType == "" {
		return nil, fmt.Errorf("ledger: reversal event type required")
	}
	orig, err := s.repo.Get(ctx, scope, entryID)
	if err != nil {
		return nil, err
	}
	in := PostInput{
		SourceType: orig.SourceType,
		SourceID:   orig.SourceID,
		EventType:  eventType,
		Memo:       memo,
		Lines:      make([]LineInput, len(orig.Lines)),
	}
	for i, l := range orig.Lines {
		in.Lines[i] = LineInput{AccountCode: l.AccountCode, Direction: flip(l.Direction), AmountCents: l.AmountCents}
	}
	debits, credits, err := balance(in.Lines)
	if err != nil {
		return nil, err
	}
	alloc, err := s.numbers.Next(ctx, scope, sequence.KeyLedger)
	if err != nil {
		return nil, fmt.Errorf("allocate entry number: %w", err)
	}
	return s.post(ctx, scope, in, alloc.Formatted, &entryID, debits, credits)
}

func (s *Service) post(ctx context.Context, scope shared.Scope, in PostInput, entryNo string, reversalOf *int64, debits, credits int64) (*Entry, error) {
	payload, err := audit.Marshal(audit.PostingPayload{
		EntryNo:     entryNo,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
		EventType:   in.EventType,
		DebitCents:  debits,
		CreditCents: credits,
		Reversal:    reversalOf != nil,
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Post(ctx, scope, postRecord{
		EntryNo:    entryNo,
		SourceType: in.SourceType,
		SourceID:   in.SourceID,
		EventType:  in.EventType,
		Memo:       in.Memo,
		ReversalOf: reversalOf,
		Lines:      in.Lines,
		AuditID:    uuid.New(),
		ActorID:    actorParam(scope),
		TraceID:    traceParam(scope),
		Payload:    payload,
	})
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (*Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// ForSource returns every entry posted for a source document, oldest first.
func (s *Service) ForSource(ctx context.Context, scope shared.Scope, sourceType string, sourceID int64) ([]Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ForSource(ctx, scope, sourceType, sourceID)
}

// List pages through entries by id.
func (s *Service) List(ctx context.Context, scope shared.Scope, page shared.Page) ([]Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope, page)
}

func balance(lines []LineInput) (debits, credits int64, err error) {
	for _, l := range lines {
		switch l.Direction {
		case Debit:
			debits += l.AmountCents
		case Credit:
			credits += l.AmountCents
		default:
			return 0, 0, fmt.Errorf("ledger: unknown direction %q", l.Direction)
		}
		if l.AmountCents <= 0 {
			return 0, 0, fmt.Errorf("ledger: line amount must be positive")
		}
	}
	if debits != credits || debits == 0 {
		return 0, 0, &shared.UnbalancedError{DebitCents: debits, CreditCents: credits}
	}
	return debits, credits, nil
}

func flip(d Direction) Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

func actorParam(scope shared.Scope) any {
	if scope.ActorID == nil {
		return nil
	}
	return *scope.ActorID
}

func traceParam(scope shared.Scope) any {
	if scope.TraceID == uuid.Nil {
		return nil
	}
	return scope.TraceID
}
