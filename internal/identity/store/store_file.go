package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"passport-gateway/internal/identity/models"
)

// FileStore keeps identities in memory and mirrors every change to a JSON
// file, so sealed signing keys survive a restart of a deployment that runs
// without PostgreSQL. Writes go through a temp file and rename, so a crash
// mid-write leaves the previous snapshot intact.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *InMemoryStore
}

// NewFileStore loads any existing snapshot at path. A missing file is an
// empty store; a file that does not parse is an error.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewInMemoryStore()}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity snapshot: %w", err)
	}
	var identities []models.IssuerIdentity
	if err := json.Unmarshal(raw, &identities); err != nil {
		return nil, fmt.Errorf("parse identity snapshot %s: %w", path, err)
	}
	s.mem.load(identities)
	return s, nil
}

func (s *FileStore) Create(ctx context.Context, identity models.IssuerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Create(ctx, identity); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) Get(ctx context.Context, did models.DID) (models.IssuerIdentity, error) {
	return s.mem.Get(ctx, did)
}

func (s *FileStore) RecordVerification(ctx context.Context, did models.DID, status models.Status, lastError string, attemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.RecordVerification(ctx, did, status, lastError, attemptAt); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) AddAuthorizedAccount(ctx context.Context, did models.DID, account models.LedgerAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.AddAuthorizedAccount(ctx, did, account); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) AddTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.AddTrustedSupplier(ctx, did, supplier); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) RemoveTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.RemoveTrustedSupplier(ctx, did, supplier); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) persist() error {
	identities := s.mem.snapshot()
	// Stable order keeps snapshots diffable.
	sort.Slice(identities, func(i, j int) bool { return identities[i].DID < identities[j].DID })

	raw, err := json.MarshalIndent(identities, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".identities-*.json")
	if err != nil {
		return fmt.Errorf("create identity snapshot: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write identity snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close identity snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace identity snapshot: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
