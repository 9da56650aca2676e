package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/sentinel"
)

// DefaultPendingTTL bounds how long an externally signed issuance may stay
// open between Prepare and Finalize.
const DefaultPendingTTL = 10 * time.Minute

// PendingSignature is an issuance waiting for a detached signature.
type PendingSignature struct {
	ID            string    `json:"id"`
	CredentialID  string    `json:"credentialId"`
	IssuerDID     string    `json:"issuerDid"`
	SignableInput string    `json:"signableInput"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PendingStore holds prepared issuances until they are finalized or expire.
// Take removes the entry so a pending issuance can be completed at most once.
type PendingStore interface {
	Put(ctx context.Context, p PendingSignature) error
	Take(ctx context.Context, id string) (PendingSignature, error)
}

// InMemoryPendingStore keeps pending issuances in process memory. Entries
// past their TTL are rejected on Take rather than swept eagerly.
type InMemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]PendingSignature
	ttl     time.Duration
	now     func() time.Time
}

type PendingOption func(*InMemoryPendingStore)

func WithPendingTTL(ttl time.Duration) PendingOption {
	return func(s *InMemoryPendingStore) { s.ttl = ttl }
}

func WithPendingClock(now func() time.Time) PendingOption {
	return func(s *InMemoryPendingStore) { s.now = now }
}

func NewInMemoryPendingStore(opts ...PendingOption) *InMemoryPendingStore {
	s := &InMemoryPendingStore{
		entries: make(map[string]PendingSignature),
		ttl:     DefaultPendingTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryPendingStore) Put(_ context.Context, p PendingSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.ID] = p
	return nil
}

func (s *InMemoryPendingStore) Take(_ context.Context, id string) (PendingSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	if !ok {
		return PendingSignature{}, dErrors.Wrap(sentinel.ErrNotFound,
			dErrors.CodeNotFound, fmt.Sprintf("no pending issuance %s", id))
	}
	delete(s.entries, id)
	if s.now().Sub(p.CreatedAt) > s.ttl {
		return PendingSignature{}, dErrors.Wrap(sentinel.ErrExpired,
			dErrors.CodeExpired, fmt.Sprintf("pending issuance %s has expired", id))
	}
	return p, nil
}
