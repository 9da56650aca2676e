package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/sentinel"
)

const pendingKeyPrefix = "pending:issuance:"

// RedisPendingStore is a Redis-backed pending store. This is the
// production-recommended implementation for distributed deployments where
// Prepare and Finalize may land on different instances. Expiry is delegated
// to Redis key TTLs.
type RedisPendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisPendingOption func(*RedisPendingStore)

func WithRedisPendingTTL(ttl time.Duration) RedisPendingOption {
	return func(s *RedisPendingStore) { s.ttl = ttl }
}

// NewRedisPendingStore constructs a Redis-backed pending store.
func NewRedisPendingStore(client *redis.Client, opts ...RedisPendingOption) *RedisPendingStore {
	s := &RedisPendingStore{
		client: client,
		ttl:    DefaultPendingTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisPendingStore) Put(ctx context.Context, p PendingSignature) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending issuance: %w", err)
	}
	return s.client.Set(ctx, pendingKeyPrefix+p.ID, raw, s.ttl).Err()
}

// Take fetches and deletes atomically via GETDEL so concurrent finalizers
// cannot both complete the same issuance.
func (s *RedisPendingStore) Take(ctx context.Context, id string) (PendingSignature, error) {
	raw, err := s.client.GetDel(ctx, pendingKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return PendingSignature{}, dErrors.Wrap(sentinel.ErrNotFound,
			dErrors.CodeNotFound, fmt.Sprintf("no pending issuance %s", id))
	}
	if err != nil {
		return PendingSignature{}, fmt.Errorf("fetch pending issuance: %w", err)
	}
	var p PendingSignature
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PendingSignature{}, fmt.Errorf("decode pending issuance: %w", err)
	}
	return p, nil
}

var _ PendingStore = (*RedisPendingStore)(nil)
var _ PendingStore = (*InMemoryPendingStore)(nil)
