package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verification-api/internal/domain"
)

// VerificationLedger is the in-memory counterpart of the DynamoDB ledger,
// used for local development and tests (STORE_BACKEND=memory). It enforces
// the same invariants: pending-code uniqueness, single use, and external-id
// exclusivity — all under one mutex so check-and-set is indivisible.
type VerificationLedger struct {
	mu       sync.Mutex
	records  map[string]*domain.VerificationRecord // by code
	bindings map[string]*domain.ExternalBinding    // by external id
}

func NewVerificationLedger() *VerificationLedger {
	return &VerificationLedger{
		records:  make(map[string]*domain.VerificationRecord),
		bindings: make(map[string]*domain.ExternalBinding),
	}
}

func (l *VerificationLedger) Insert(_ context.Context, rec *domain.VerificationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.Code]; exists {
		return fmt.Errorf("code %q: %w", rec.Code, domain.ErrDuplicateCode)
	}
	// One pending record per requester, checked inside the same critical
	// section as the write so two concurrent issuers cannot both commit.
	now := time.Now()
	for _, prior := range l.records {
		if prior.RequesterID != rec.RequesterID || prior.State != domain.StatePending {
			continue
		}
		if prior.ExpiredAt(now) {
			prior.State = domain.StateExpired
			continue
		}
		return fmt.Errorf("requester %q already has a pending code: %w", rec.RequesterID, domain.ErrConflict)
	}
	clone := *rec
	l.records[rec.Code] = &clone
	return nil
}

func (l *VerificationLedger) GetByCode(_ context.Context, code string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[code]
	if !ok {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (l *VerificationLedger) GetActivePending(_ context.Context, requesterID string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for _, rec := range l.records {
		if rec.RequesterID == requesterID && rec.State == domain.StatePending && !rec.ExpiredAt(now) {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("no active verification for requester: %w", domain.ErrNotFound)
}

func (l *VerificationLedger) TryMarkUsed(_ context.Context, code, externalID string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[code]
	if !ok {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	switch rec.State {
	case domain.StateUsed:
		return nil, fmt.Errorf("code %q: %w", code, domain.ErrAlreadyUsed)
	case domain.StateExpired:
		return nil, fmt.Errorf("code %q: %w", code, domain.ErrExpired)
	}
	now := time.Now()
	if rec.ExpiredAt(now) {
		rec.State = domain.StateExpired
		return nil, fmt.Errorf("code %q: %w", code, domain.ErrExpired)
	}
	if b, bound := l.bindings[externalID]; bound && b.RequesterID != rec.RequesterID {
		return nil, fmt.Errorf("external id bound to another requester: %w", domain.ErrExternalIDConflict)
	}

	rec.State = domain.StateUsed
	rec.ExternalID = externalID
	l.bindings[externalID] = &domain.ExternalBinding{
		ExternalID:  externalID,
		RequesterID: rec.RequesterID,
		Code:        code,
		BoundAt:     now.UTC(),
	}
	clone := *rec
	return &clone, nil
}

func (l *VerificationLedger) Expire(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[code]
	if !ok {
		return fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	if rec.State == domain.StatePending {
		rec.State = domain.StateExpired
	}
	return nil
}
