// Package store persists the traceability event index.
package store

import (
	"context"

	"passport-gateway/internal/dte/models"
)

// Store is the event index port. Upsert is keyed on the full
// (product, dteCid, eventId, role) tuple so re-indexing the same event is
// idempotent.
type Store interface {
	Upsert(ctx context.Context, record models.DteIndexRecord) error

	// ListByProduct returns every index record referencing a product,
	// newest event first.
	ListByProduct(ctx context.Context, productID string) ([]models.DteIndexRecord, error)

	// ListByDte returns the records of one event credential.
	ListByDte(ctx context.Context, dteCID string) ([]models.DteIndexRecord, error)
}
