// Package store provides local adapters for the anchor ports. They back
// single-instance deployments and tests; production deployments plug chain
// and object-store clients into the same ports.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"passport-gateway/internal/anchor/models"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/sentinel"
)

// InMemoryLedger keeps anchor records in process memory. It implements the
// read port and additionally accepts anchor confirmations, enforcing that
// versions advance one at a time.
type InMemoryLedger struct {
	mu      sync.RWMutex
	anchors map[string]models.AnchorRecord
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{anchors: make(map[string]models.AnchorRecord)}
}

func (l *InMemoryLedger) GetAnchor(_ context.Context, tokenID string) (models.AnchorRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.anchors[tokenID]
	if !ok {
		return models.AnchorRecord{}, dErrors.Wrap(sentinel.ErrNotFound,
			dErrors.CodeNotFound, fmt.Sprintf("token %s has no anchor", tokenID))
	}
	return record, nil
}

// RecordAnchor registers an anchor confirmation. The first record for a
// token must be version 1; after that each record must supersede the
// current version exactly, so two writers racing on the same base version
// cannot both win.
func (l *InMemoryLedger) RecordAnchor(_ context.Context, record models.AnchorRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.anchors[record.TokenID]
	switch {
	case !exists && record.Version != 1:
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("token %s is unanchored, first version must be 1, got %d", record.TokenID, record.Version))
	case exists && record.Version != current.Version+1:
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("token %s is at version %d, cannot anchor version %d", record.TokenID, current.Version, record.Version))
	}
	if record.Status == "" {
		record.Status = models.AnchorActive
	}
	if exists {
		// Token-level attributes carry over unless the update sets them.
		if record.SubjectIDHash == "" {
			record.SubjectIDHash = current.SubjectIDHash
		}
		if record.DatasetType == "" {
			record.DatasetType = current.DatasetType
		}
		if record.Granularity == "" {
			record.Granularity = current.Granularity
		}
		if record.Account == "" {
			record.Account = current.Account
		}
	}
	l.anchors[record.TokenID] = record
	return nil
}

// RevokeAnchor transitions a token's anchor to Revoked. Revocation is a
// status change, not a removal; the record and its history stay readable.
func (l *InMemoryLedger) RevokeAnchor(_ context.Context, tokenID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.anchors[tokenID]
	if !ok {
		return dErrors.Wrap(sentinel.ErrNotFound,
			dErrors.CodeNotFound, fmt.Sprintf("token %s has no anchor", tokenID))
	}
	record.Status = models.AnchorRevoked
	l.anchors[tokenID] = record
	return nil
}

// InMemoryBlobStore is a content-addressed blob store. URIs are derived
// from the sha256 of the data, so identical payloads share an entry.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	uri := "blob://" + hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[uri] = append([]byte(nil), data...)
	return uri, nil
}

// Overwrite replaces the blob behind a URI without rehashing. It exists so
// tests can simulate a tampered dataset behind an already anchored URI.
func (s *InMemoryBlobStore) Overwrite(uri string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[uri] = append([]byte(nil), data...)
}

func (s *InMemoryBlobStore) Get(_ context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[uri]
	if !ok {
		return nil, dErrors.Wrap(sentinel.ErrNotFound,
			dErrors.CodeNotFound, fmt.Sprintf("no blob at %s", uri))
	}
	return append([]byte(nil), data...), nil
}
