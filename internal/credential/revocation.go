package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "crl:credential:"

// InMemoryRevocationList is a process-local StatusChecker for single
// instance deployments and tests.
type InMemoryRevocationList struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{revoked: make(map[string]struct{})}
}

func (l *InMemoryRevocationList) Revoke(_ context.Context, credentialID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[credentialID] = struct{}{}
	return nil
}

func (l *InMemoryRevocationList) IsRevoked(_ context.Context, credentialID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.revoked[credentialID]
	return ok, nil
}

// RedisRevocationList is a Redis-backed StatusChecker shared across
// instances. Key existence is the revocation marker.
type RedisRevocationList struct {
	client *redis.Client
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// Revoke marks a credential revoked. A zero ttl keeps the marker until it
// is removed by hand; otherwise it outlives the credential's own expiry.
func (l *RedisRevocationList) Revoke(ctx context.Context, credentialID string, ttl time.Duration) error {
	if credentialID == "" {
		return nil
	}
	return l.client.Set(ctx, revokedKeyPrefix+credentialID, "1", ttl).Err()
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	if credentialID == "" {
		return false, nil
	}
	_, err := l.client.Get(ctx, revokedKeyPrefix+credentialID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ StatusChecker = (*InMemoryRevocationList)(nil)
var _ StatusChecker = (*RedisRevocationList)(nil)
