// Package verify runs the full trust pipeline over anchored passports and
// standalone credentials, reporting each check by name so callers see
// exactly which link of the chain failed.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"passport-gateway/internal/anchor"
	anchormodels "passport-gateway/internal/anchor/models"
	"passport-gateway/internal/anchor/ports"
	"passport-gateway/internal/credential"
	dErrors "passport-gateway/pkg/domain-errors"
)

// Check names, stable across the API.
const (
	CheckExists         = "exists"
	CheckRetrieved      = "retrieved"
	CheckHashMatches    = "hashMatches"
	CheckSignatureValid = "signatureValid"
	CheckNotRevoked     = "notRevoked"
	CheckSchemaValid    = "schemaValid"
	CheckIssuerMatches  = "issuerMatches"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_verifications_total",
		Help: "Verification pipeline runs by outcome",
	}, []string{"outcome"})
	verificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_verification_duration_seconds",
		Help:    "End to end verification pipeline latency",
		Buckets: prometheus.DefBuckets,
	})
)

// CheckResult is one named check's outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Report is the pipeline outcome. Verified is true only when every check
// that ran passed; Warnings carry conditions that did not fail the run.
type Report struct {
	Verified bool               `json:"verified"`
	Checks   []CheckResult      `json:"checks"`
	Warnings []string           `json:"warnings,omitempty"`
	Claims   *credential.Claims `json:"-"`
}

func (r *Report) add(name string, passed bool, message string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: passed, Message: message})
	if !passed {
		r.Verified = false
	}
}

// AccountChecker answers whether a ledger account is authorized to act for
// an issuer. The identity service implements it.
type AccountChecker interface {
	IsAccountAuthorized(ctx context.Context, issuerDID, account string) (bool, error)
}

// IssuerPolicy applies trusted issuer policy to event credentials. The dte
// service implements it.
type IssuerPolicy interface {
	CheckIssuerPolicy(ctx context.Context, issuerDID string, event *credential.EventBody) error
}

// Pipeline wires the checks over the anchor ports and credential engine.
type Pipeline struct {
	ledger   ports.Ledger
	blobs    ports.BlobStore
	engine   *credential.Engine
	accounts AccountChecker
	policy   IssuerPolicy
	logger   *slog.Logger
}

type Option func(*Pipeline)

func WithAccountChecker(a AccountChecker) Option {
	return func(p *Pipeline) { p.accounts = a }
}

func WithIssuerPolicy(pol IssuerPolicy) Option {
	return func(p *Pipeline) { p.policy = pol }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func NewPipeline(ledger ports.Ledger, blobs ports.BlobStore, engine *credential.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger: ledger,
		blobs:  blobs,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// VerifyToken runs the anchored pipeline for a token: anchor lookup,
// dataset retrieval, fingerprint comparison, then the credential checks.
// Early checks gate later ones; a missing anchor yields a one-check report.
func (p *Pipeline) VerifyToken(ctx context.Context, tokenID string) (Report, error) {
	start := time.Now()
	report := Report{Verified: true}

	anchorRecord, err := p.ledger.GetAnchor(ctx, tokenID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			report.add(CheckExists, false, fmt.Sprintf("token %s has no anchor", tokenID))
			p.finish(start, &report)
			return report, nil
		}
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "read anchor")
	}
	report.add(CheckExists, true, "")

	data, err := p.blobs.Get(ctx, anchorRecord.DatasetURI)
	if err != nil {
		report.add(CheckRetrieved, false, fmt.Sprintf("dataset at %s is unreachable", anchorRecord.DatasetURI))
		p.finish(start, &report)
		return report, nil
	}
	report.add(CheckRetrieved, true, "")

	jwtCompact := string(data)
	if got := anchor.Fingerprint(jwtCompact); got != anchorRecord.PayloadFingerprint {
		report.add(CheckHashMatches, false, "dataset does not match the anchored fingerprint")
	} else {
		report.add(CheckHashMatches, true, "")
	}

	if err := p.credentialChecks(ctx, jwtCompact, &anchorRecord, &report); err != nil {
		return Report{}, err
	}
	p.finish(start, &report)
	return report, nil
}

// VerifyEnvelope runs the credential checks on a standalone envelope that
// was handed over directly rather than fetched through an anchor.
func (p *Pipeline) VerifyEnvelope(ctx context.Context, jwtCompact string) (Report, error) {
	start := time.Now()
	report := Report{Verified: true}
	if err := p.credentialChecks(ctx, jwtCompact, nil, &report); err != nil {
		return Report{}, err
	}
	p.finish(start, &report)
	return report, nil
}

// credentialChecks runs the signature, revocation, schema and issuer
// checks. The signature path and the account authorization lookup both
// cross the network, so they run concurrently.
func (p *Pipeline) credentialChecks(ctx context.Context, jwtCompact string, anchorRecord *anchormodels.AnchorRecord, report *Report) error {
	var (
		result     credential.VerifyResult
		authorized = true
		authErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, err = p.engine.Verify(gctx, jwtCompact)
		return err
	})
	if p.accounts != nil && anchorRecord != nil && anchorRecord.Account != "" {
		claims, err := credential.Decode(jwtCompact)
		if err == nil {
			g.Go(func() error {
				authorized, authErr = p.accounts.IsAccountAuthorized(gctx, claims.Issuer, anchorRecord.Account)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	anchorRevoked := anchorRecord != nil && anchorRecord.Status == anchormodels.AnchorRevoked
	p.applyEngineResult(result, anchorRevoked, report)

	if anchorRecord != nil && anchorRecord.Account != "" && p.accounts != nil {
		switch {
		case authErr != nil:
			report.add(CheckIssuerMatches, false,
				fmt.Sprintf("authorization of account %s could not be confirmed", anchorRecord.Account))
		case !authorized:
			report.add(CheckIssuerMatches, false,
				fmt.Sprintf("account %s is not authorized by the issuer", anchorRecord.Account))
		default:
			report.add(CheckIssuerMatches, true, "")
		}
	}

	if p.policy != nil && result.Claims.Body.Kind == credential.KindEvent {
		err := p.policy.CheckIssuerPolicy(ctx, result.Claims.Issuer, result.Claims.Body.Event)
		switch {
		case err == nil:
		case dErrors.HasCode(err, dErrors.CodeAllowlistUnresolvable):
			// Tolerated on the read path: history stays visible when the
			// product owners cannot be resolved right now.
			report.Warnings = append(report.Warnings, err.Error())
		default:
			report.add(CheckIssuerMatches, false, err.Error())
		}
	}

	if result.Verified || result.Claims.Issuer != "" {
		claims := result.Claims
		report.Claims = &claims
	}
	return nil
}

// applyEngineResult folds the engine verdict into the named checks.
// Revocation can come from the credential status list or from the anchor
// itself; both fail the same check.
func (p *Pipeline) applyEngineResult(result credential.VerifyResult, anchorRevoked bool, report *Report) {
	if result.Verified {
		report.add(CheckSignatureValid, true, "")
		if anchorRevoked {
			report.add(CheckNotRevoked, false, "token anchor is revoked on the ledger")
		} else {
			report.add(CheckNotRevoked, true, "")
		}
		report.add(CheckSchemaValid, true, "")
		return
	}
	failure := result.Failure
	switch {
	case failure == nil:
		report.add(CheckSignatureValid, false, "verification produced no verdict")
	case failure.Code == dErrors.CodeRevoked:
		report.add(CheckSignatureValid, true, "")
		report.add(CheckNotRevoked, false, failure.Message)
		report.add(CheckSchemaValid, true, "")
	case failure.Code == dErrors.CodeInvalidInput:
		report.add(CheckSchemaValid, false, failure.Message)
	default:
		report.add(CheckSignatureValid, false, failure.Message)
	}
}

func (p *Pipeline) finish(start time.Time, report *Report) {
	outcome := "verified"
	if !report.Verified {
		outcome = "failed"
	}
	verificationsTotal.WithLabelValues(outcome).Inc()
	verificationDuration.Observe(time.Since(start).Seconds())
	p.logger.Debug("verification finished", "outcome", outcome, "checks", len(report.Checks))
}
