// Package config builds runtime configuration from the environment so
// main stays lean.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	dErrors "passport-gateway/pkg/domain-errors"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	Addr string

	// MasterKey opens the signing key vault. 32 bytes, base64 encoded in
	// the environment.
	MasterKey []byte

	PostgresURL string
	RedisURL    string

	// IdentityStorePath is a JSON snapshot file used for identities when no
	// PostgreSQL is configured. Empty means identities live in memory only.
	IdentityStorePath string

	KafkaBrokers string
	KafkaTopic   string

	// LedgerNetwork names the network account authorizations are checked
	// against.
	LedgerNetwork string

	ResolveTimeout time.Duration
	PendingTTL     time.Duration

	ShutdownGrace time.Duration
}

const (
	defaultAddr           = ":8080"
	defaultResolveTimeout = 10 * time.Second
	defaultPendingTTL     = 10 * time.Minute
	defaultShutdownGrace  = 15 * time.Second
)

// FromEnv reads configuration from the environment. Only the master key is
// mandatory; everything else degrades to in-memory or disabled adapters.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:              envOr("GATEWAY_ADDR", defaultAddr),
		PostgresURL:       os.Getenv("GATEWAY_POSTGRES_URL"),
		RedisURL:          os.Getenv("GATEWAY_REDIS_URL"),
		IdentityStorePath: os.Getenv("GATEWAY_IDENTITY_STORE_PATH"),
		KafkaBrokers:      os.Getenv("GATEWAY_KAFKA_BROKERS"),
		KafkaTopic:        os.Getenv("GATEWAY_KAFKA_TOPIC"),
		LedgerNetwork:     envOr("GATEWAY_LEDGER_NETWORK", "hedera"),
		ResolveTimeout:    durationOr("GATEWAY_RESOLVE_TIMEOUT", defaultResolveTimeout),
		PendingTTL:        durationOr("GATEWAY_PENDING_TTL", defaultPendingTTL),
		ShutdownGrace:     durationOr("GATEWAY_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	encoded := os.Getenv("GATEWAY_MASTER_KEY")
	if encoded == "" {
		return Config{}, dErrors.New(dErrors.CodeConfiguration, "GATEWAY_MASTER_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Config{}, dErrors.New(dErrors.CodeConfiguration,
			fmt.Sprintf("GATEWAY_MASTER_KEY is not valid base64: %v", err))
	}
	if len(key) != 32 {
		return Config{}, dErrors.New(dErrors.CodeConfiguration,
			fmt.Sprintf("GATEWAY_MASTER_KEY must decode to 32 bytes, got %d", len(key)))
	}
	cfg.MasterKey = key
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
