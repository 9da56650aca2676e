// The gateway server issues, anchors and verifies product passports and
// traceability events. main wires the adapters picked by configuration
// (Postgres, Redis and Kafka all degrade to in-memory or disabled) and
// keeps the server lifecycle small.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"passport-gateway/internal/anchor"
	anchorstore "passport-gateway/internal/anchor/store"
	"passport-gateway/internal/credential"
	"passport-gateway/internal/dte"
	dtestore "passport-gateway/internal/dte/store"
	"passport-gateway/internal/dte/stream"
	idModels "passport-gateway/internal/identity/models"
	"passport-gateway/internal/identity/resolver"
	idservice "passport-gateway/internal/identity/service"
	idstore "passport-gateway/internal/identity/store"
	"passport-gateway/internal/keyvault"
	"passport-gateway/internal/platform/config"
	"passport-gateway/internal/platform/database"
	"passport-gateway/internal/platform/httpserver"
	"passport-gateway/internal/platform/kafka"
	"passport-gateway/internal/platform/logger"
	platformredis "passport-gateway/internal/platform/redis"
	httptransport "passport-gateway/internal/transport/http"
	"passport-gateway/internal/verify"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration error", "error", err.Error())
		os.Exit(1)
	}

	vault, err := keyvault.New(cfg.MasterKey)
	if err != nil {
		log.Error("key vault initialization failed", "error", err.Error())
		os.Exit(1)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.PostgresURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	deps := buildServices(cfg, log, vault, pool, redisClient)
	defer deps.close()

	router := httptransport.NewRouter(log,
		deps.health,
		httptransport.NewIssuerHandler(deps.identity, log),
		httptransport.NewPassportHandler(deps.anchors, deps.ledger, deps.identity, deps.pipeline, log),
		httptransport.NewEventHandler(deps.engine, deps.events, deps.identity, log),
		httptransport.NewVerifyHandler(deps.pipeline, deps.revocation, log),
	)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting passport gateway",
		"addr", cfg.Addr,
		"postgres", cfg.PostgresURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", cfg.KafkaBrokers != "",
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// services holds the wired domain layer handed to the transport.
type services struct {
	identity   *identityAdapter
	engine     *credential.Engine
	anchors    *anchor.Service
	ledger     *anchorstore.InMemoryLedger
	events     *dte.Service
	pipeline   *verify.Pipeline
	revocation httptransport.Revoker
	health     *httptransport.HealthHandler

	producer *kafka.Producer
}

func (s *services) close() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

func buildServices(
	cfg config.Config,
	log *slog.Logger,
	vault *keyvault.Vault,
	pool *database.Pool,
	redisClient *platformredis.Client) *services {

	var identityStore idstore.Store = idstore.NewInMemoryStore()
	var dteStore dtestore.Store = dtestore.NewInMemoryStore()
	switch {
	case pool != nil:
		identityStore = idstore.NewPostgres(pool.DB())
		dteStore = dtestore.NewPostgres(pool.DB())
	case cfg.IdentityStorePath != "":
		fileStore, err := idstore.NewFileStore(cfg.IdentityStorePath)
		if err != nil {
			log.Error("identity snapshot unusable, falling back to memory",
				"path", cfg.IdentityStorePath, "error", err)
		} else {
			identityStore = fileStore
		}
	}

	identitySvc := idservice.New(identityStore, vault,
		resolver.New(resolver.WithTimeout(cfg.ResolveTimeout), resolver.WithTracer(resolver.NewOTel())),
		idservice.WithLogger(log))
	identity := &identityAdapter{svc: identitySvc, network: cfg.LedgerNetwork}

	var pending credential.PendingStore = credential.NewInMemoryPendingStore(
		credential.WithPendingTTL(cfg.PendingTTL))
	var revocation httptransport.Revoker
	var status credential.StatusChecker
	if redisClient != nil {
		pending = credential.NewRedisPendingStore(redisClient.Client,
			credential.WithRedisPendingTTL(cfg.PendingTTL))
		list := credential.NewRedisRevocationList(redisClient.Client)
		revocation, status = list, list
	} else {
		list := credential.NewInMemoryRevocationList()
		revocation, status = list, list
	}

	engine := credential.NewEngine(identity,
		credential.WithPendingStore(pending),
		credential.WithStatusChecker(status),
		credential.WithEngineLogger(log))

	ledger := anchorstore.NewInMemoryLedger()
	blobs := anchorstore.NewInMemoryBlobStore()
	anchors := anchor.NewService(ledger, blobs, engine, anchor.WithLogger(log))

	// A product's trusted issuers are its passport issuer plus that
	// issuer's supplier allowlist. A product without an anchored passport
	// resolves with an error and counts as unresolvable.
	trust := dte.TrustDirectoryFunc(func(ctx context.Context, productID string) ([]string, error) {
		claims, _, err := anchors.CurrentPassport(ctx, productID)
		if err != nil {
			return nil, err
		}
		suppliers, err := identitySvc.TrustedSupplierDIDs(ctx, idModels.DID(claims.Issuer))
		if err != nil {
			return nil, err
		}
		trusted := make([]string, 0, len(suppliers)+1)
		trusted = append(trusted, claims.Issuer)
		for _, d := range suppliers {
			trusted = append(trusted, string(d))
		}
		return trusted, nil
	})

	dteOpts := []dte.Option{dte.WithLogger(log)}
	var producer *kafka.Producer
	if cfg.KafkaBrokers != "" {
		p, err := kafka.NewProducer(kafka.Config{Brokers: cfg.KafkaBrokers, Retries: 5}, log)
		if err != nil {
			log.Error("kafka producer initialization failed", "error", err.Error())
			os.Exit(1)
		}
		producer = p
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = stream.DefaultTopic
		}
		dteOpts = append(dteOpts, dte.WithPublisher(stream.NewKafkaPublisher(p, topic)))
	}
	events := dte.NewService(dteStore, dte.NewEnforcer(trust), dteOpts...)

	pipeline := verify.NewPipeline(ledger, blobs, engine,
		verify.WithAccountChecker(identity),
		verify.WithIssuerPolicy(events),
		verify.WithLogger(log))

	var checks []httptransport.HealthCheck
	if pool != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: pool.Health})
	}
	if redisClient != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: redisClient.Health})
	}
	if producer != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: func(ctx context.Context) error {
			if !producer.Healthy(ctx) {
				return errors.New("kafka cluster unreachable")
			}
			return nil
		}})
	}

	return &services{
		identity:   identity,
		engine:     engine,
		anchors:    anchors,
		ledger:     ledger,
		events:     events,
		pipeline:   pipeline,
		revocation: revocation,
		health:     httptransport.NewHealthHandler(checks...),
		producer:   producer,
	}
}
