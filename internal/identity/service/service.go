// Package service implements the did:web issuer lifecycle: registration,
// document generation, remote verification, key custody and the allowlists
// that gate event publication.
package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"passport-gateway/internal/identity/models"
	"passport-gateway/internal/identity/store"
	"passport-gateway/internal/keyvault"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/sentinel"
)

// Resolver fetches hosted identity documents and service-endpoint payloads.
type Resolver interface {
	Resolve(ctx context.Context, did models.DID) (*models.Document, error)
	FetchAuthorizedAccounts(ctx context.Context, url string) ([]models.LedgerAccount, error)
}

// Option configures the Service.
type Option func(*Service)

// WithLogger configures a logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source. Tests use this for deterministic
// attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service manages organizational signing identities. It is constructed with
// explicit dependencies; multiple isolated instances can coexist in one
// process.
type Service struct {
	store    store.Store
	vault    *keyvault.Vault
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an identity service.
func New(directory store.Store, vault *keyvault.Vault, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		store:    directory,
		vault:    vault,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RegisterIssuer generates an Ed25519 key pair for the domain, seals the
// private seed immediately, and persists the identity as Pending. The
// plaintext seed never leaves this function.
//
// Re-registration of an existing DID fails with a conflict rather than
// rotating keys: silently generating a fresh key pair would orphan every
// credential signed under the old one.
func (s *Service) RegisterIssuer(ctx context.Context, domain, orgName string) (models.IssuerIdentity, error) {
	did, err := models.DIDFromDomain(domain)
	if err != nil {
		return models.IssuerIdentity{}, dErrors.New(dErrors.CodeInvalidInput, err.Error())
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.IssuerIdentity{}, fmt.Errorf("generate key pair: %w", err)
	}

	sealed, err := s.vault.Encrypt(priv.Seed())
	if err != nil {
		return models.IssuerIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "seal signing key")
	}

	identity := models.IssuerIdentity{
		DID:                 did,
		Domain:              domain,
		OrgName:             orgName,
		Status:              models.StatusPending,
		SigningKeyPublic:    pub,
		EncryptedPrivateKey: sealed,
		RegisteredAt:        s.now(),
	}

	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.IssuerIdentity{}, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("issuer %s already registered", did))
		}
		return models.IssuerIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "persist identity")
	}

	s.logger.InfoContext(ctx, "issuer registered", "did", did.String(), "domain", domain)
	return identity, nil
}

// Get returns the stored identity for a DID.
func (s *Service) Get(ctx context.Context, did models.DID) (models.IssuerIdentity, error) {
	identity, err := s.store.Get(ctx, did)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.IssuerIdentity{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("issuer %s not registered", did))
		}
		return models.IssuerIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "load identity")
	}
	return identity, nil
}

// GenerateDocument produces the identity document the issuer must host at
// its well-known location. With includeServices set, the authorized-accounts
// service endpoint is embedded.
func (s *Service) GenerateDocument(ctx context.Context, did models.DID, includeServices bool) (*models.Document, error) {
	identity, err := s.Get(ctx, did)
	if err != nil {
		return nil, err
	}
	doc, err := models.NewDocument(&identity, includeServices)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate document")
	}
	return doc, nil
}

// VerifyOutcome reports a verification attempt.
type VerifyOutcome struct {
	Success bool          `json:"success"`
	Status  models.Status `json:"status"`
	Error   string        `json:"error,omitempty"`
}

// VerifyRemote fetches the document expected to be hosted for the DID and
// confirms the embedded public key matches the registered one. The status
// transitions to Verified or Failed; fetch and parse failures are recorded,
// never raised as crashes.
func (s *Service) VerifyRemote(ctx context.Context, did models.DID) (VerifyOutcome, error) {
	identity, err := s.Get(ctx, did)
	if err != nil {
		return VerifyOutcome{}, err
	}

	attemptAt := s.now()
	failureReason := s.checkHostedDocument(ctx, &identity)

	status := models.StatusVerified
	if failureReason != "" {
		status = models.StatusFailed
	}
	if err := s.store.RecordVerification(ctx, did, status, failureReason, attemptAt); err != nil {
		return VerifyOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "record verification")
	}

	if failureReason != "" {
		s.logger.WarnContext(ctx, "issuer verification failed", "did", did.String(), "reason", failureReason)
		return VerifyOutcome{Success: false, Status: models.StatusFailed, Error: failureReason}, nil
	}
	s.logger.InfoContext(ctx, "issuer verified", "did", did.String())
	return VerifyOutcome{Success: true, Status: models.StatusVerified}, nil
}

func (s *Service) checkHostedDocument(ctx context.Context, identity *models.IssuerIdentity) string {
	doc, err := s.resolver.Resolve(ctx, identity.DID)
	if err != nil {
		return fmt.Sprintf("resolve document: %v", err)
	}
	key, err := doc.PublicKey()
	if err != nil {
		return fmt.Sprintf("document key: %v", err)
	}
	if !ed25519.PublicKey(key).Equal(ed25519.PublicKey(identity.SigningKeyPublic)) {
		return "hosted document key does not match registered signing key"
	}
	return ""
}

// DecryptSigningKey opens the issuer's sealed seed for immediate use by the
// caller. The seed is never logged.
func (s *Service) DecryptSigningKey(ctx context.Context, did models.DID) ([]byte, error) {
	identity, err := s.Get(ctx, did)
	if err != nil {
		return nil, err
	}
	if identity.Status == models.StatusUnknown {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity has not completed registration")
	}
	seed, err := s.vault.Decrypt(identity.EncryptedPrivateKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyMismatch) {
			return nil, dErrors.New(dErrors.CodeKeyMismatch, "master key cannot open the stored signing key")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decrypt signing key")
	}
	return seed, nil
}

// AddAuthorizedAccount allowlists a ledger account for the issuer.
func (s *Service) AddAuthorizedAccount(ctx context.Context, did models.DID, account, network string) error {
	if account == "" || network == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "account and network are required")
	}
	err := s.store.AddAuthorizedAccount(ctx, did, models.LedgerAccount{Account: account, Network: network})
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("issuer %s not registered", did))
	}
	return err
}

// IsAccountAuthorized checks whether a ledger account may act for the DID.
// Identities registered locally are checked against the directory; foreign
// identities are checked remotely through the authorized-accounts service
// endpoint of their hosted document, since authorizer and verifier are often
// different processes.
func (s *Service) IsAccountAuthorized(ctx context.Context, did models.DID, account, network string) (bool, error) {
	identity, err := s.store.Get(ctx, did)
	if err == nil {
		return identity.IsAccountAuthorized(account, network), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load identity")
	}

	doc, err := s.resolver.Resolve(ctx, did)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeResolution, fmt.Sprintf("resolve %s: %v", did, err))
	}
	endpoint, ok := doc.FindService(models.ServiceTypeAuthorizedAccounts)
	if !ok {
		return false, nil
	}
	accounts, err := s.resolver.FetchAuthorizedAccounts(ctx, endpoint.ServiceEndpoint)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeResolution, fmt.Sprintf("fetch authorized accounts for %s: %v", did, err))
	}
	for _, a := range accounts {
		if a.Account == account && a.Network == network {
			return true, nil
		}
	}
	return false, nil
}

// AddTrustedSupplier adds a supplier DID to the issuer's governance allowlist.
func (s *Service) AddTrustedSupplier(ctx context.Context, did, supplier models.DID) error {
	err := s.store.AddTrustedSupplier(ctx, did, supplier)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("issuer %s not registered", did))
	}
	return err
}

// RemoveTrustedSupplier removes a supplier DID from the allowlist.
func (s *Service) RemoveTrustedSupplier(ctx context.Context, did, supplier models.DID) error {
	err := s.store.RemoveTrustedSupplier(ctx, did, supplier)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("issuer %s not registered", did))
	}
	return err
}

// TrustedSupplierDIDs returns the manufacturer-defined allowlist.
func (s *Service) TrustedSupplierDIDs(ctx context.Context, did models.DID) ([]models.DID, error) {
	identity, err := s.Get(ctx, did)
	if err != nil {
		return nil, err
	}
	return identity.TrustedSupplierDIDs, nil
}

// ResolvePublicKey returns the Ed25519 public key for a DID. Self-certifying
// did:key identifiers resolve directly; did:web identifiers resolve from the
// directory when registered locally, otherwise from the hosted document.
// Resolution failure is a resolution error, not a soft warning.
func (s *Service) ResolvePublicKey(ctx context.Context, did models.DID) ([]byte, error) {
	if did.IsKey() {
		key, err := did.EmbeddedPublicKey()
		if err != nil {
			return nil, dErrors.New(dErrors.CodeResolution, err.Error())
		}
		return key, nil
	}

	identity, err := s.store.Get(ctx, did)
	if err == nil {
		return identity.SigningKeyPublic, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load identity")
	}

	doc, err := s.resolver.Resolve(ctx, did)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeResolution, fmt.Sprintf("resolve %s: %v", did, err))
	}
	key, err := doc.PublicKey()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeResolution, err.Error())
	}
	return key, nil
}
