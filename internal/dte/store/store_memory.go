package store

import (
	"context"
	"sort"
	"sync"

	"passport-gateway/internal/dte/models"
)

type indexKey struct {
	productID string
	dteCID    string
	eventID   string
	role      models.Role
}

// InMemoryStore keeps the event index in process memory for single
// instance deployments and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[indexKey]models.DteIndexRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[indexKey]models.DteIndexRecord)}
}

func (s *InMemoryStore) Upsert(_ context.Context, record models.DteIndexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := indexKey{record.ProductID, record.DteCID, record.EventID, record.Role}
	s.records[key] = record
	return nil
}

func (s *InMemoryStore) ListByProduct(_ context.Context, productID string) ([]models.DteIndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DteIndexRecord
	for key, record := range s.records {
		if key.productID == productID {
			out = append(out, record)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListByDte(_ context.Context, dteCID string) ([]models.DteIndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DteIndexRecord
	for key, record := range s.records {
		if key.dteCID == dteCID {
			out = append(out, record)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(records []models.DteIndexRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].EventTime.Equal(records[j].EventTime) {
			return records[i].EventTime.After(records[j].EventTime)
		}
		if records[i].EventID != records[j].EventID {
			return records[i].EventID < records[j].EventID
		}
		return records[i].Role < records[j].Role
	})
}

var _ Store = (*InMemoryStore)(nil)
