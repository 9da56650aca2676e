package dte

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"passport-gateway/internal/anchor"
	"passport-gateway/internal/credential"
	"passport-gateway/internal/dte/models"
	"passport-gateway/internal/dte/store"
	dErrors "passport-gateway/pkg/domain-errors"
)

var (
	indexedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_dte_indexed_records_total",
		Help: "Index records written, by role",
	}, []string{"role"})
	allowlistRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_dte_allowlist_rejections_total",
		Help: "Events rejected by trusted issuer policy",
	})
)

// StreamPublisher pushes freshly indexed records onto the event stream.
// Publishing is best effort; the index is the source of truth.
type StreamPublisher interface {
	PublishIndexed(ctx context.Context, record models.DteIndexRecord) error
}

// Service verifies, policy-checks and indexes event credentials.
type Service struct {
	store     store.Store
	enforcer  *Enforcer
	publisher StreamPublisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithPublisher(p StreamPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, enforcer *Enforcer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		enforcer: enforcer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index records a sealed event credential under every product it
// references. The issuer must pass trusted issuer policy for all
// policy-checked products; at issuance time an unresolvable policy is a
// failure, not a pass.
func (s *Service) Index(ctx context.Context, envelope credential.Envelope, dteCID string) ([]models.DteIndexRecord, error) {
	if envelope.Claims.Body.Kind != credential.KindEvent {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "only event credentials are indexed")
	}
	event := envelope.Claims.Body.Event

	if err := s.enforcer.Check(ctx, envelope.Claims.Issuer, event); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotAllowlisted) {
			allowlistRejections.Inc()
		}
		return nil, err
	}

	if dteCID == "" {
		dteCID = anchor.Fingerprint(envelope.JWTCompact)
	}
	indexedAt := s.now().UTC()

	refs := ExtractProductRoles(event)
	records := make([]models.DteIndexRecord, 0, len(refs))
	for _, ref := range refs {
		record := models.DteIndexRecord{
			ProductID:    ref.ProductID,
			DteCID:       dteCID,
			EventID:      event.EventID,
			CredentialID: envelope.CredentialID,
			Role:         ref.Role,
			IssuerDID:    envelope.Claims.Issuer,
			EventType:    event.EventType,
			EventTime:    event.EventTime,
			IndexedAt:    indexedAt,
		}
		if err := s.store.Upsert(ctx, record); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write index record")
		}
		indexedRecords.WithLabelValues(string(ref.Role)).Inc()
		records = append(records, record)
	}

	if s.publisher != nil {
		for _, record := range records {
			if err := s.publisher.PublishIndexed(ctx, record); err != nil {
				s.logger.Warn("index stream publish failed",
					"dteCid", record.DteCID, "productId", record.ProductID, "error", err)
			}
		}
	}

	s.logger.Info("indexed event credential",
		"dteCid", dteCID, "eventId", event.EventID, "records", len(records))
	return records, nil
}

// EventsForProduct returns a product's event history, newest first.
func (s *Service) EventsForProduct(ctx context.Context, productID string) ([]models.DteIndexRecord, error) {
	if productID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "productId is required")
	}
	records, err := s.store.ListByProduct(ctx, productID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read index")
	}
	return records, nil
}

// EventRecords returns the index rows of one event credential.
func (s *Service) EventRecords(ctx context.Context, dteCID string) ([]models.DteIndexRecord, error) {
	records, err := s.store.ListByDte(ctx, dteCID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read index")
	}
	return records, nil
}

// CheckIssuerPolicy exposes the allowlist verdict for read paths. Callers
// there may treat an unresolvable verdict as a warning.
func (s *Service) CheckIssuerPolicy(ctx context.Context, issuerDID string, event *credential.EventBody) error {
	return s.enforcer.Check(ctx, issuerDID, event)
}
