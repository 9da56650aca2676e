//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-gateway/internal/identity/models"
	"passport-gateway/pkg/platform/sentinel"
	"passport-gateway/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	s := NewPostgres(pg.DB)
	require.NoError(t, s.Migrate(ctx))

	did, err := models.DIDFromDomain("example.com")
	require.NoError(t, err)

	identity := models.IssuerIdentity{
		DID:              did,
		Domain:           "example.com",
		OrgName:          "Example Org",
		Status:           models.StatusPending,
		SigningKeyPublic: make([]byte, 32),
		RegisteredAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	identity.EncryptedPrivateKey.Ciphertext = []byte("ct")
	identity.EncryptedPrivateKey.Nonce = []byte("nonce")

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, identity))

		got, err := s.Get(ctx, did)
		require.NoError(t, err)
		assert.Equal(t, identity.DID, got.DID)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, identity.SigningKeyPublic, got.SigningKeyPublic)
	})

	t.Run("duplicate DID conflicts", func(t *testing.T) {
		assert.ErrorIs(t, s.Create(ctx, identity), sentinel.ErrConflict)
	})

	t.Run("verification is last writer wins", func(t *testing.T) {
		later := time.Now().UTC().Truncate(time.Microsecond)
		earlier := later.Add(-time.Minute)

		require.NoError(t, s.RecordVerification(ctx, did, models.StatusVerified, "", later))
		require.NoError(t, s.RecordVerification(ctx, did, models.StatusFailed, "stale", earlier))

		got, err := s.Get(ctx, did)
		require.NoError(t, err)
		assert.Equal(t, models.StatusVerified, got.Status)
		assert.Empty(t, got.LastError)
	})

	t.Run("allowlists are idempotent", func(t *testing.T) {
		account := models.LedgerAccount{Account: "0xabc", Network: "testnet"}
		require.NoError(t, s.AddAuthorizedAccount(ctx, did, account))
		require.NoError(t, s.AddAuthorizedAccount(ctx, did, account))

		supplier := models.DID("did:web:supplier.example")
		require.NoError(t, s.AddTrustedSupplier(ctx, did, supplier))
		require.NoError(t, s.AddTrustedSupplier(ctx, did, supplier))

		got, err := s.Get(ctx, did)
		require.NoError(t, err)
		assert.Len(t, got.AuthorizedAccounts, 1)
		assert.Len(t, got.TrustedSupplierDIDs, 1)

		require.NoError(t, s.RemoveTrustedSupplier(ctx, did, supplier))
		got, err = s.Get(ctx, did)
		require.NoError(t, err)
		assert.Empty(t, got.TrustedSupplierDIDs)
	})

	t.Run("unknown DID yields not found", func(t *testing.T) {
		_, err := s.Get(ctx, models.DID("did:web:missing.example"))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
