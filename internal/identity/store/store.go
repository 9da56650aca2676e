// Package store persists issuer identities. Backends are interface-driven so
// the identity service can run against an in-memory map, a JSON snapshot
// file or PostgreSQL without rewiring business code.
package store

import (
	"context"
	"time"

	"passport-gateway/internal/identity/models"
)

// Store is the identity directory. Identities are never hard-deleted; status
// transitions are recorded in place.
type Store interface {
	// Create persists a new identity. Returns sentinel.ErrConflict when the
	// DID is already registered.
	Create(ctx context.Context, identity models.IssuerIdentity) error

	// Get returns the identity for a DID, or sentinel.ErrNotFound.
	Get(ctx context.Context, did models.DID) (models.IssuerIdentity, error)

	// RecordVerification applies the outcome of a verification attempt.
	// Concurrent attempts for the same DID are expected: the write is
	// last-writer-wins on attemptAt, so a stale attempt never clobbers a
	// newer outcome.
	RecordVerification(ctx context.Context, did models.DID, status models.Status, lastError string, attemptAt time.Time) error

	// AddAuthorizedAccount appends a ledger account to the identity's
	// allowlist. Adding an account twice is a no-op.
	AddAuthorizedAccount(ctx context.Context, did models.DID, account models.LedgerAccount) error

	// AddTrustedSupplier / RemoveTrustedSupplier manage the governance
	// allowlist for event issuance about this issuer's products.
	AddTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error
	RemoveTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error
}
