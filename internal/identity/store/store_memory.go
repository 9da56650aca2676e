package store

import (
	"context"
	"sync"
	"time"

	"passport-gateway/internal/identity/models"
	"passport-gateway/pkg/platform/sentinel"
)

// InMemoryStore keeps identities in a mutex-guarded map. Used in tests and in
// single-process deployments without PostgreSQL.
type InMemoryStore struct {
	mu         sync.RWMutex
	identities map[models.DID]models.IssuerIdentity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{identities: make(map[models.DID]models.IssuerIdentity)}
}

func (s *InMemoryStore) Create(_ context.Context, identity models.IssuerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.DID]; ok {
		return sentinel.ErrConflict
	}
	s.identities[identity.DID] = identity
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, did models.DID) (models.IssuerIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[did]
	if !ok {
		return models.IssuerIdentity{}, sentinel.ErrNotFound
	}
	return identity, nil
}

func (s *InMemoryStore) RecordVerification(_ context.Context, did models.DID, status models.Status, lastError string, attemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[did]
	if !ok {
		return sentinel.ErrNotFound
	}
	// Last-writer-wins: a stale attempt never overwrites a newer outcome.
	if attemptAt.Before(identity.LastAttemptAt) {
		return nil
	}
	identity.Status = status
	identity.LastError = lastError
	identity.LastAttemptAt = attemptAt
	s.identities[did] = identity
	return nil
}

func (s *InMemoryStore) AddAuthorizedAccount(_ context.Context, did models.DID, account models.LedgerAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[did]
	if !ok {
		return sentinel.ErrNotFound
	}
	if identity.IsAccountAuthorized(account.Account, account.Network) {
		return nil
	}
	identity.AuthorizedAccounts = append(identity.AuthorizedAccounts, account)
	s.identities[did] = identity
	return nil
}

func (s *InMemoryStore) AddTrustedSupplier(_ context.Context, did models.DID, supplier models.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[did]
	if !ok {
		return sentinel.ErrNotFound
	}
	if identity.TrustsSupplier(supplier) {
		return nil
	}
	identity.TrustedSupplierDIDs = append(identity.TrustedSupplierDIDs, supplier)
	s.identities[did] = identity
	return nil
}

func (s *InMemoryStore) snapshot() []models.IssuerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IssuerIdentity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity)
	}
	return out
}

func (s *InMemoryStore) load(identities []models.IssuerIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range identities {
		s.identities[identity.DID] = identity
	}
}

func (s *InMemoryStore) RemoveTrustedSupplier(_ context.Context, did models.DID, supplier models.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[did]
	if !ok {
		return sentinel.ErrNotFound
	}
	kept := make([]models.DID, 0, len(identity.TrustedSupplierDIDs))
	for _, d := range identity.TrustedSupplierDIDs {
		if d != supplier {
			kept = append(kept, d)
		}
	}
	identity.TrustedSupplierDIDs = kept
	s.identities[did] = identity
	return nil
}
