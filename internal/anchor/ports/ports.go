// Package ports defines the hexagonal ports of the anchor service. The
// service depends on these interfaces; adapters (chain clients, object
// stores, in-memory fakes) implement them.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Ledger,BlobStore

import (
	"context"

	"passport-gateway/internal/anchor/models"
)

// Ledger reads anchor commitments. Writes happen outside this service, by
// the account holder submitting to the chain; the gateway only ever reads
// what is already anchored.
type Ledger interface {
	// GetAnchor returns the current anchor for a token.
	// Returns sentinel.ErrNotFound when the token has never been anchored.
	GetAnchor(ctx context.Context, tokenID string) (models.AnchorRecord, error)
}

// BlobStore holds the sealed envelopes the anchors point at. Put is
// content-addressed: the returned URI is derived from the data, so storing
// the same envelope twice yields the same URI.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (uri string, err error)
	Get(ctx context.Context, uri string) ([]byte, error)
}
