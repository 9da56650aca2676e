package credential

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "passport-gateway/pkg/domain-errors"
)

// KeyResolver resolves an issuer DID to its Ed25519 verification key.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, did string) (ed25519.PublicKey, error)
}

// StatusChecker reports whether a credential has been revoked. It is the
// optional revocation port; an engine without one treats every credential
// as unrevoked.
type StatusChecker interface {
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// Envelope is a signed credential in compact serialization together with
// the claims it carries.
type Envelope struct {
	JWTCompact   string
	CredentialID string
	Claims       Claims
}

// VerifyResult is the outcome of verifying an envelope. Failure is nil
// when Verified is true and carries the classified failure otherwise, so
// callers can tell an expired credential from a forged one.
type VerifyResult struct {
	Verified  bool
	IssuerDID string
	Claims    Claims
	Failure   *dErrors.Error
}

// Engine signs and verifies credential envelopes. Only EdDSA over Ed25519
// is accepted; every other algorithm is rejected before signature checking.
type Engine struct {
	keys    KeyResolver
	status  StatusChecker
	pending PendingStore
	logger  *slog.Logger
	now     func() time.Time
}

type EngineOption func(*Engine)

func WithStatusChecker(s StatusChecker) EngineOption {
	return func(e *Engine) { e.status = s }
}

func WithPendingStore(p PendingStore) EngineOption {
	return func(e *Engine) { e.pending = p }
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(keys KeyResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		keys:    keys,
		pending: NewInMemoryPendingStore(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func claimsToMap(c Claims) (jwt.MapClaims, error) {
	subject, err := c.subjectDocument()
	if err != nil {
		return nil, err
	}
	m := jwt.MapClaims{
		"iss": c.Issuer,
		"sub": c.Subject,
		"jti": c.ID,
		"iat": jwt.NewNumericDate(c.IssuedAt),
		"vc": map[string]any{
			"type":              c.credentialTypes(),
			"credentialSubject": subject,
		},
	}
	if !c.ExpiresAt.IsZero() {
		m["exp"] = jwt.NewNumericDate(c.ExpiresAt)
	}
	return m, nil
}

func mapToClaims(m jwt.MapClaims) (Claims, error) {
	c := Claims{}
	if iss, _ := m.GetIssuer(); iss != "" {
		c.Issuer = iss
	}
	if sub, _ := m.GetSubject(); sub != "" {
		c.Subject = sub
	}
	if jti, ok := m["jti"].(string); ok {
		c.ID = jti
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	vc, ok := m["vc"].(map[string]any)
	if !ok {
		return Claims{}, errors.New("payload carries no vc claim")
	}
	subject, ok := vc["credentialSubject"].(map[string]any)
	if !ok {
		return Claims{}, errors.New("vc claim carries no credentialSubject")
	}

	kind := KindPassport
	if types, ok := vc["type"].([]any); ok {
		for _, t := range types {
			if t == typeEvent {
				kind = KindEvent
			}
		}
	}

	switch kind {
	case KindEvent:
		raw, err := json.Marshal(subject)
		if err != nil {
			return Claims{}, fmt.Errorf("re-encode event subject: %w", err)
		}
		var body EventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return Claims{}, fmt.Errorf("decode event subject: %w", err)
		}
		c.Body = SubjectBody{Kind: KindEvent, Event: &body}
	default:
		c.Body = SubjectBody{Kind: KindPassport, Passport: subject}
	}
	return c, nil
}

// BuildSignableBytes renders the claims to the exact header.payload string
// that an Ed25519 signature must cover. Building it through the token type
// keeps local and external signing on the same canonical bytes.
func (e *Engine) BuildSignableBytes(c Claims) (string, error) {
	mapped, err := claimsToMap(c)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "build claims")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, mapped)
	signable, err := token.SigningString()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode signing input")
	}
	return signable, nil
}

func (e *Engine) prepareClaims(c *Claims) error {
	if c.Issuer == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "credential requires an issuer")
	}
	if err := c.Body.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = e.now().UTC().Truncate(time.Second)
	}
	return nil
}

// IssueWithIdentity signs the claims with a locally held Ed25519 seed and
// returns the sealed envelope.
func (e *Engine) IssueWithIdentity(_ context.Context, c Claims, seed []byte) (Envelope, error) {
	if err := e.prepareClaims(&c); err != nil {
		return Envelope{}, err
	}
	if len(seed) != ed25519.SeedSize {
		return Envelope{}, dErrors.New(dErrors.CodeCrypto, "signing seed has wrong length")
	}
	mapped, err := claimsToMap(c)
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "build claims")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, mapped)
	compact, err := token.SignedString(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeCrypto, "sign credential")
	}
	e.logger.Debug("issued credential", "credentialId", c.ID, "issuer", c.Issuer, "kind", c.Body.Kind)
	return Envelope{JWTCompact: compact, CredentialID: c.ID, Claims: c}, nil
}

// Prepare starts an externally signed issuance. The returned pending record
// carries the signable input; the caller signs it out of band and completes
// with Finalize before the pending entry expires.
func (e *Engine) Prepare(ctx context.Context, c Claims) (PendingSignature, error) {
	if err := e.prepareClaims(&c); err != nil {
		return PendingSignature{}, err
	}
	signable, err := e.BuildSignableBytes(c)
	if err != nil {
		return PendingSignature{}, err
	}
	pending := PendingSignature{
		ID:            uuid.NewString(),
		CredentialID:  c.ID,
		IssuerDID:     c.Issuer,
		SignableInput: signable,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.pending.Put(ctx, pending); err != nil {
		return PendingSignature{}, dErrors.Wrap(err, dErrors.CodeInternal, "store pending signature")
	}
	return pending, nil
}

// Finalize completes a prepared issuance with a detached Ed25519 signature.
// The signature is checked against the issuer's resolved key before the
// envelope is sealed; a pending entry is consumed even when the check fails.
func (e *Engine) Finalize(ctx context.Context, pendingID string, signature []byte) (Envelope, error) {
	pending, err := e.pending.Take(ctx, pendingID)
	if err != nil {
		return Envelope{}, err
	}
	if len(signature) != ed25519.SignatureSize {
		return Envelope{}, dErrors.New(dErrors.CodeCrypto, "signature has wrong length")
	}
	key, err := e.keys.ResolvePublicKey(ctx, pending.IssuerDID)
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeResolution, "resolve issuer key")
	}
	if !ed25519.Verify(key, []byte(pending.SignableInput), signature) {
		return Envelope{}, dErrors.New(dErrors.CodeCrypto, "external signature does not verify against issuer key")
	}
	compact := pending.SignableInput + "." + base64.RawURLEncoding.EncodeToString(signature)
	result, err := e.Verify(ctx, compact)
	if err != nil {
		return Envelope{}, err
	}
	if !result.Verified {
		return Envelope{}, result.Failure
	}
	return Envelope{JWTCompact: compact, CredentialID: result.Claims.ID, Claims: result.Claims}, nil
}

// Verify parses and checks a compact envelope. Parse failures, expiry,
// revocation and signature mismatches each come back as distinct failure
// codes on the result; only infrastructure problems surface as errors.
func (e *Engine) Verify(ctx context.Context, jwtCompact string) (VerifyResult, error) {
	var resolveErr error
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	token, err := parser.Parse(jwtCompact, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, errors.New("token carries no issuer")
		}
		key, err := e.keys.ResolvePublicKey(ctx, iss)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		return key, nil
	})

	if err != nil {
		if resolveErr != nil {
			return VerifyResult{}, dErrors.Wrap(resolveErr, dErrors.CodeResolution, "resolve issuer key")
		}
		return VerifyResult{Failure: classifyParseError(err)}, nil
	}

	mapped, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return VerifyResult{Failure: failure(dErrors.CodeInvalidInput, "unexpected claims type")}, nil
	}
	claims, err := mapToClaims(mapped)
	if err != nil {
		return VerifyResult{Failure: asDomainError(err, dErrors.CodeInvalidInput, "decode claims")}, nil
	}
	result := VerifyResult{IssuerDID: claims.Issuer, Claims: claims}

	if err := claims.Body.Validate(); err != nil {
		result.Failure = asDomainError(err, dErrors.CodeInvalidInput, "subject shape")
		return result, nil
	}

	if e.status != nil && claims.ID != "" {
		revoked, err := e.status.IsRevoked(ctx, claims.ID)
		if err != nil {
			return VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "check revocation status")
		}
		if revoked {
			result.Failure = failure(dErrors.CodeRevoked, "credential has been revoked")
			return result, nil
		}
	}

	result.Verified = true
	return result, nil
}

func classifyParseError(err error) *dErrors.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return failure(dErrors.CodeExpired, "credential has expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return failure(dErrors.CodeCrypto, "signature does not verify")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return failure(dErrors.CodeInvalidInput, "envelope is not a valid compact credential")
	default:
		return dErrors.Wrap(err, dErrors.CodeCrypto, "credential rejected").(*dErrors.Error)
	}
}

func failure(code dErrors.Code, msg string) *dErrors.Error {
	return &dErrors.Error{Code: code, Message: msg}
}

func asDomainError(err error, code dErrors.Code, msg string) *dErrors.Error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de
	}
	return dErrors.Wrap(err, code, msg).(*dErrors.Error)
}

// Decode parses an envelope without verifying its signature. It serves the
// verification pipeline steps that need the payload before, or independently
// of, signature checking.
func Decode(jwtCompact string) (Claims, error) {
	parts := strings.Split(jwtCompact, ".")
	if len(parts) != 3 {
		return Claims{}, dErrors.New(dErrors.CodeInvalidInput, "envelope is not in compact form")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode payload")
	}
	var mapped jwt.MapClaims
	if err := json.Unmarshal(payload, &mapped); err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse payload")
	}
	claims, err := mapToClaims(mapped)
	if err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode claims")
	}
	return claims, nil
}
