//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-gateway/internal/dte/models"
	"passport-gateway/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	s := NewPostgres(pg.DB)
	require.NoError(t, s.Migrate(ctx))

	base := models.DteIndexRecord{
		ProductID:    "prod-1",
		DteCID:       "cid-1",
		EventID:      "evt-1",
		CredentialID: "cred-1",
		Role:         models.RoleOutput,
		IssuerDID:    "did:web:s1.example.com",
		EventType:    "commissioning",
		EventTime:    time.Now().UTC().Truncate(time.Microsecond),
		IndexedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	t.Run("upsert and list by product", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, base))

		second := base
		second.EventID = "evt-2"
		second.DteCID = "cid-2"
		second.Role = models.RoleInput
		second.EventTime = base.EventTime.Add(time.Hour)
		require.NoError(t, s.Upsert(ctx, second))

		records, err := s.ListByProduct(ctx, "prod-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "evt-2", records[0].EventID, "newest event first")
		assert.Equal(t, "evt-1", records[1].EventID)
		assert.Equal(t, "cred-1", records[1].CredentialID)
	})

	t.Run("upsert on the same key is idempotent", func(t *testing.T) {
		reindexed := base
		reindexed.IndexedAt = base.IndexedAt.Add(time.Minute)
		require.NoError(t, s.Upsert(ctx, reindexed))

		records, err := s.ListByDte(ctx, "cid-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, reindexed.IndexedAt.Equal(records[0].IndexedAt))
	})

	t.Run("list by dte", func(t *testing.T) {
		records, err := s.ListByDte(ctx, "cid-2")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.RoleInput, records[0].Role)
	})

	t.Run("unknown product lists empty", func(t *testing.T) {
		records, err := s.ListByProduct(ctx, "prod-ghost")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
