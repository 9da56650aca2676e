package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"passport-gateway/internal/anchor"
	anchormodels "passport-gateway/internal/anchor/models"
	"passport-gateway/internal/anchor/store"
	"passport-gateway/internal/credential"
	"passport-gateway/internal/dte"
	dtestore "passport-gateway/internal/dte/store"
)

type staticKeys struct {
	key ed25519.PublicKey
}

func (k *staticKeys) ResolvePublicKey(context.Context, string) (ed25519.PublicKey, error) {
	return k.key, nil
}

type staticAccounts struct {
	authorized map[string]bool
	err        error
}

func (a *staticAccounts) IsAccountAuthorized(_ context.Context, _ string, account string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.authorized[account], nil
}

// =============================================================================
// Pipeline Suite
// =============================================================================
// Justification: the pipeline is the outward face of the trust model. The
// suite drives it end to end through in-memory adapters and asserts on the
// named checks, because API consumers decide what to do based on exactly
// which check failed.

type PipelineSuite struct {
	suite.Suite
	ctx         context.Context
	seed        []byte
	engine      *credential.Engine
	revocations *credential.InMemoryRevocationList
	ledger      *store.InMemoryLedger
	blobs       *store.InMemoryBlobStore
	anchors     *anchor.Service
	accounts    *staticAccounts
	trust       map[string][]string
	pipeline    *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.seed = priv.Seed()

	s.revocations = credential.NewInMemoryRevocationList()
	s.engine = credential.NewEngine(&staticKeys{key: pub},
		credential.WithStatusChecker(s.revocations))

	s.ledger = store.NewInMemoryLedger()
	s.blobs = store.NewInMemoryBlobStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.anchors = anchor.NewService(s.ledger, s.blobs, s.engine, anchor.WithLogger(logger))

	s.accounts = &staticAccounts{authorized: map[string]bool{"0.0.1234": true}}
	s.trust = map[string][]string{}

	enforcer := dte.NewEnforcer(dte.TrustDirectoryFunc(func(_ context.Context, productID string) ([]string, error) {
		trusted, ok := s.trust[productID]
		if !ok {
			return nil, errors.New("owner unknown")
		}
		return trusted, nil
	}))
	events := dte.NewService(dtestore.NewInMemoryStore(), enforcer, dte.WithLogger(logger))

	s.pipeline = NewPipeline(s.ledger, s.blobs, s.engine,
		WithAccountChecker(s.accounts),
		WithIssuerPolicy(events),
		WithLogger(logger))
}

func (s *PipelineSuite) anchorPassport(tokenID, account string) anchor.Proposal {
	claims := credential.Claims{
		Issuer:  "did:web:supplier.example.com",
		Subject: "product-001",
		Body: credential.SubjectBody{
			Kind:     credential.KindPassport,
			Passport: map[string]any{"productId": "product-001"},
		},
	}
	proposal, err := s.anchors.CreateInitial(s.ctx, tokenID, claims, s.seed)
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.RecordAnchor(s.ctx, anchormodels.AnchorRecord{
		TokenID:            tokenID,
		DatasetURI:         proposal.DatasetURI,
		PayloadFingerprint: proposal.Fingerprint,
		Version:            proposal.Version,
		Account:            account,
	}))
	return proposal
}

func (s *PipelineSuite) check(report Report, name string) *CheckResult {
	for i := range report.Checks {
		if report.Checks[i].Name == name {
			return &report.Checks[i]
		}
	}
	return nil
}

func (s *PipelineSuite) TestAnchoredPassportPassesAllChecks() {
	s.anchorPassport("tok-1", "0.0.1234")

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.True(report.Verified)

	for _, name := range []string{CheckExists, CheckRetrieved, CheckHashMatches,
		CheckSignatureValid, CheckNotRevoked, CheckSchemaValid, CheckIssuerMatches} {
		result := s.check(report, name)
		s.Require().NotNil(result, name)
		s.True(result.Passed, name)
	}
	s.Require().NotNil(report.Claims)
	s.Equal("did:web:supplier.example.com", report.Claims.Issuer)
}

func (s *PipelineSuite) TestUnanchoredTokenFailsExists() {
	report, err := s.pipeline.VerifyToken(s.ctx, "tok-ghost")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.Require().Len(report.Checks, 1)
	s.Equal(CheckExists, report.Checks[0].Name)
	s.False(report.Checks[0].Passed)
}

func (s *PipelineSuite) TestTamperedDatasetFailsHashCheck() {
	proposal := s.anchorPassport("tok-1", "0.0.1234")
	s.blobs.Overwrite(proposal.DatasetURI, []byte("replaced"))

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.False(s.check(report, CheckHashMatches).Passed)
}

func (s *PipelineSuite) TestRevokedCredentialFailsNotRevoked() {
	proposal := s.anchorPassport("tok-1", "0.0.1234")
	s.Require().NoError(s.revocations.Revoke(s.ctx, proposal.Envelope.CredentialID, 0))

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.True(s.check(report, CheckSignatureValid).Passed)
	s.False(s.check(report, CheckNotRevoked).Passed)
}

func (s *PipelineSuite) TestRevokedAnchorFailsNotRevoked() {
	s.anchorPassport("tok-1", "0.0.1234")
	s.Require().NoError(s.ledger.RevokeAnchor(s.ctx, "tok-1"))

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.True(s.check(report, CheckSignatureValid).Passed)
	s.False(s.check(report, CheckNotRevoked).Passed)
}

func (s *PipelineSuite) TestUnauthorizedAccountFailsIssuerMatch() {
	s.anchorPassport("tok-1", "0.0.9999")

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.False(s.check(report, CheckIssuerMatches).Passed)
	s.True(s.check(report, CheckSignatureValid).Passed)
}

func (s *PipelineSuite) TestAccountCheckFailureIsNotAPass() {
	s.anchorPassport("tok-1", "0.0.1234")
	s.accounts.err = errors.New("registry down")

	report, err := s.pipeline.VerifyToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(report.Verified)
	s.False(s.check(report, CheckIssuerMatches).Passed)
}

func (s *PipelineSuite) TestStandaloneEnvelope() {
	envelope, err := s.engine.IssueWithIdentity(s.ctx, credential.Claims{
		Issuer: "did:web:supplier.example.com",
		Body: credential.SubjectBody{
			Kind:     credential.KindPassport,
			Passport: map[string]any{"productId": "product-001"},
		},
	}, s.seed)
	s.Require().NoError(err)

	report, err := s.pipeline.VerifyEnvelope(s.ctx, envelope.JWTCompact)
	s.Require().NoError(err)
	s.True(report.Verified)
	s.Nil(s.check(report, CheckExists))
	s.Nil(s.check(report, CheckIssuerMatches))
}

func (s *PipelineSuite) sealEvent(issuer string, outputs []credential.ProductRef) credential.Envelope {
	envelope, err := s.engine.IssueWithIdentity(s.ctx, credential.Claims{
		Issuer: issuer,
		Body: credential.SubjectBody{
			Kind: credential.KindEvent,
			Event: &credential.EventBody{
				EventID:   "evt-1",
				EventType: "commissioning",
				EventTime: time.Now().UTC(),
				Outputs:   outputs,
			},
		},
	}, s.seed)
	s.Require().NoError(err)
	return envelope
}

func (s *PipelineSuite) TestEventPolicyRejectionFailsVerification() {
	s.trust["prod-1"] = []string{"did:web:other.example.com"}
	envelope := s.sealEvent("did:web:supplier.example.com",
		[]credential.ProductRef{{ProductID: "prod-1"}})

	report, err := s.pipeline.VerifyEnvelope(s.ctx, envelope.JWTCompact)
	s.Require().NoError(err)
	s.False(report.Verified)
	s.False(s.check(report, CheckIssuerMatches).Passed)
}

func (s *PipelineSuite) TestEventUnresolvablePolicyIsAWarning() {
	envelope := s.sealEvent("did:web:supplier.example.com",
		[]credential.ProductRef{{ProductID: "prod-unknown"}})

	report, err := s.pipeline.VerifyEnvelope(s.ctx, envelope.JWTCompact)
	s.Require().NoError(err)
	s.True(report.Verified)
	s.NotEmpty(report.Warnings)
}
