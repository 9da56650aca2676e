package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-gateway/internal/anchor"
	anchorModels "passport-gateway/internal/anchor/models"
	"passport-gateway/internal/credential"
	dteModels "passport-gateway/internal/dte/models"
	idModels "passport-gateway/internal/identity/models"
	"passport-gateway/internal/identity/service"
	"passport-gateway/internal/verify"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// ============================================================================
// Fakes
// ============================================================================

type fakeIdentity struct {
	identity  idModels.IssuerIdentity
	getErr    error
	suppliers []idModels.DID
}

func (f *fakeIdentity) RegisterIssuer(_ context.Context, domain, orgName string) (idModels.IssuerIdentity, error) {
	if domain == "" {
		return idModels.IssuerIdentity{}, dErrors.New(dErrors.CodeInvalidInput, "domain is required")
	}
	did, _ := idModels.DIDFromDomain(domain)
	return idModels.IssuerIdentity{DID: did, Domain: domain, OrgName: orgName, Status: idModels.StatusPending}, nil
}

func (f *fakeIdentity) Get(_ context.Context, _ idModels.DID) (idModels.IssuerIdentity, error) {
	return f.identity, f.getErr
}

func (f *fakeIdentity) GenerateDocument(_ context.Context, did idModels.DID, _ bool) (*idModels.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &idModels.Document{ID: string(did)}, nil
}

func (f *fakeIdentity) VerifyRemote(_ context.Context, _ idModels.DID) (service.VerifyOutcome, error) {
	return service.VerifyOutcome{Success: true, Status: idModels.StatusVerified}, nil
}

func (f *fakeIdentity) AddAuthorizedAccount(_ context.Context, _ idModels.DID, account, network string) error {
	if account == "" || network == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "account and network are required")
	}
	return nil
}

func (f *fakeIdentity) AddTrustedSupplier(_ context.Context, _, supplier idModels.DID) error {
	f.suppliers = append(f.suppliers, supplier)
	return nil
}

func (f *fakeIdentity) RemoveTrustedSupplier(_ context.Context, _, _ idModels.DID) error {
	return f.getErr
}

func (f *fakeIdentity) TrustedSupplierDIDs(_ context.Context, _ idModels.DID) ([]idModels.DID, error) {
	return f.suppliers, f.getErr
}

type fakeAnchors struct {
	proposal   anchor.Proposal
	claims     credential.Claims
	record     anchorModels.AnchorRecord
	chain      []anchorModels.ChainEntry
	createErr  error
	prepareErr error
	currentErr error

	gotUpdate anchor.UpdateRequest
}

func (f *fakeAnchors) CreateInitial(_ context.Context, _ string, _ credential.Claims, _ []byte) (anchor.Proposal, error) {
	return f.proposal, f.createErr
}

func (f *fakeAnchors) PrepareUpdate(_ context.Context, req anchor.UpdateRequest) (anchor.Proposal, error) {
	f.gotUpdate = req
	return f.proposal, f.prepareErr
}

func (f *fakeAnchors) CurrentPassport(_ context.Context, _ string) (credential.Claims, anchorModels.AnchorRecord, error) {
	return f.claims, f.record, f.currentErr
}

func (f *fakeAnchors) WalkChain(_ context.Context, _ string) ([]anchorModels.ChainEntry, error) {
	return f.chain, f.currentErr
}

type fakeRecorder struct {
	got       anchorModels.AnchorRecord
	revokedID string
	err       error
}

func (f *fakeRecorder) RecordAnchor(_ context.Context, record anchorModels.AnchorRecord) error {
	f.got = record
	return f.err
}

func (f *fakeRecorder) RevokeAnchor(_ context.Context, tokenID string) error {
	f.revokedID = tokenID
	return f.err
}

type fakeCustodian struct {
	seed []byte
	err  error
}

func (f *fakeCustodian) DecryptSigningKey(_ context.Context, _ idModels.DID) ([]byte, error) {
	return f.seed, f.err
}

type fakeVerifier struct {
	report verify.Report
	err    error
}

func (f *fakeVerifier) VerifyToken(_ context.Context, _ string) (verify.Report, error) {
	return f.report, f.err
}

func (f *fakeVerifier) VerifyEnvelope(_ context.Context, _ string) (verify.Report, error) {
	return f.report, f.err
}

type fakeEngine struct {
	envelope credential.Envelope
	pending  credential.PendingSignature
	err      error
}

func (f *fakeEngine) IssueWithIdentity(_ context.Context, _ credential.Claims, _ []byte) (credential.Envelope, error) {
	return f.envelope, f.err
}

func (f *fakeEngine) Prepare(_ context.Context, _ credential.Claims) (credential.PendingSignature, error) {
	return f.pending, f.err
}

func (f *fakeEngine) Finalize(_ context.Context, _ string, _ []byte) (credential.Envelope, error) {
	return f.envelope, f.err
}

type fakeIndexer struct {
	records []dteModels.DteIndexRecord
	err     error
}

func (f *fakeIndexer) Index(_ context.Context, _ credential.Envelope, _ string) ([]dteModels.DteIndexRecord, error) {
	return f.records, f.err
}

func (f *fakeIndexer) EventsForProduct(_ context.Context, _ string) ([]dteModels.DteIndexRecord, error) {
	return f.records, f.err
}

type fakeRevoker struct {
	gotID  string
	gotTTL time.Duration
	err    error
}

func (f *fakeRevoker) Revoke(_ context.Context, credentialID string, ttl time.Duration) error {
	f.gotID = credentialID
	f.gotTTL = ttl
	return f.err
}

// ============================================================================
// Issuer endpoints
// ============================================================================

func TestIssuerHandler_Register_HappyPath(t *testing.T) {
	router := NewRouter(discard, NewIssuerHandler(&fakeIdentity{}, discard))

	req := testutil.NewJSONRequest(t, "POST", "/issuers",
		map[string]string{"domain": "acme.example.com", "orgName": "ACME"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[issuerResponse](t, rr)
	assert.Equal(t, "did:web:acme.example.com", resp.DID)
	assert.Equal(t, idModels.StatusPending, resp.Status)
}

func TestIssuerHandler_Register_InvalidBody(t *testing.T) {
	router := NewRouter(discard, NewIssuerHandler(&fakeIdentity{}, discard))

	req := testutil.NewJSONRequest(t, "POST", "/issuers", nil)
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeBadRequest))
}

func TestIssuerHandler_Get_NotFound(t *testing.T) {
	identity := &fakeIdentity{getErr: dErrors.New(dErrors.CodeNotFound, "issuer not registered")}
	router := NewRouter(discard, NewIssuerHandler(identity, discard))

	req := testutil.NewRequest(t, "GET", "/issuers/did:web:missing.example.com")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeNotFound))
}

func TestIssuerHandler_AddSupplier_RequiresDID(t *testing.T) {
	router := NewRouter(discard, NewIssuerHandler(&fakeIdentity{}, discard))

	req := testutil.NewJSONRequest(t, "POST", "/issuers/did:web:acme.example.com/trusted-suppliers",
		map[string]string{})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInvalidInput))
}

func TestIssuerHandler_ListSuppliers(t *testing.T) {
	identity := &fakeIdentity{suppliers: []idModels.DID{"did:web:supplier.example.com"}}
	router := NewRouter(discard, NewIssuerHandler(identity, discard))

	req := testutil.NewRequest(t, "GET", "/issuers/did:web:acme.example.com/trusted-suppliers")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string][]string](t, rr)
	assert.Equal(t, []string{"did:web:supplier.example.com"}, (*resp)["trustedSuppliers"])
}

// ============================================================================
// Passport endpoints
// ============================================================================

func passportRouter(anchors *fakeAnchors, recorder *fakeRecorder, verifier *fakeVerifier) http.Handler {
	custodian := &fakeCustodian{seed: make([]byte, 32)}
	return NewRouter(discard, NewPassportHandler(anchors, recorder, custodian, verifier, discard))
}

func TestPassportHandler_Create_HappyPath(t *testing.T) {
	anchors := &fakeAnchors{proposal: anchor.Proposal{
		JWTCompact:  "a.b.c",
		DatasetURI:  "blob://abc",
		Fingerprint: "deadbeef",
		Version:     1,
	}}
	router := passportRouter(anchors, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports", map[string]any{
		"tokenId":   "0.0.1234-42",
		"issuerDid": "did:web:acme.example.com",
		"subjectId": "urn:epc:id:sgtin:0614141.107346.2018",
		"passport":  map[string]any{"material": "steel"},
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[anchor.Proposal](t, rr)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, "blob://abc", resp.DatasetURI)
}

func TestPassportHandler_Create_MissingToken(t *testing.T) {
	router := passportRouter(&fakeAnchors{}, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports", map[string]any{
		"issuerDid": "did:web:acme.example.com",
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInvalidInput))
}

func TestPassportHandler_Create_Conflict(t *testing.T) {
	anchors := &fakeAnchors{createErr: dErrors.New(dErrors.CodeConflict, "token is already anchored")}
	router := passportRouter(anchors, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports", map[string]any{
		"tokenId":   "0.0.1234-42",
		"issuerDid": "did:web:acme.example.com",
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusConflict)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeConflict))
}

func TestPassportHandler_Update_InheritsIssuer(t *testing.T) {
	anchors := &fakeAnchors{
		claims:   credential.Claims{Issuer: "did:web:acme.example.com"},
		proposal: anchor.Proposal{Version: 2},
	}
	router := passportRouter(anchors, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports/0.0.1234-42/updates", map[string]any{
		"patch":           map[string]any{"material": "aluminium"},
		"expectedVersion": 1,
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "did:web:acme.example.com", anchors.gotUpdate.IssuerDID)
	assert.Equal(t, int64(1), anchors.gotUpdate.ExpectedVersion)
}

func TestPassportHandler_Update_StaleVersion(t *testing.T) {
	anchors := &fakeAnchors{
		claims:     credential.Claims{Issuer: "did:web:acme.example.com"},
		prepareErr: dErrors.New(dErrors.CodeConsistency, "token moved to version 3"),
	}
	router := passportRouter(anchors, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports/0.0.1234-42/updates", map[string]any{
		"patch":           map[string]any{"material": "aluminium"},
		"expectedVersion": 2,
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusConflict)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeConsistency))
}

func TestPassportHandler_RecordAnchor(t *testing.T) {
	recorder := &fakeRecorder{}
	router := passportRouter(&fakeAnchors{}, recorder, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports/0.0.1234-42/anchors", map[string]any{
		"datasetUri":         "blob://abc",
		"payloadFingerprint": "deadbeef",
		"version":            1,
		"account":            "0.0.5005",
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusNoContent)
	assert.Equal(t, "blob://abc", recorder.got.DatasetURI)
	assert.Equal(t, "0.0.5005", recorder.got.Account)
	assert.False(t, recorder.got.AnchoredAt.IsZero())
}

func TestPassportHandler_RevokeAnchor(t *testing.T) {
	recorder := &fakeRecorder{}
	router := passportRouter(&fakeAnchors{}, recorder, &fakeVerifier{})

	req := testutil.NewRequest(t, "POST", "/passports/0.0.1234-42/revoke")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusNoContent)
	assert.Equal(t, "0.0.1234-42", recorder.revokedID)
}

func TestPassportHandler_RecordAnchor_RejectsVersionZero(t *testing.T) {
	router := passportRouter(&fakeAnchors{}, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewJSONRequest(t, "POST", "/passports/0.0.1234-42/anchors", map[string]any{
		"datasetUri":         "blob://abc",
		"payloadFingerprint": "deadbeef",
		"version":            0,
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestPassportHandler_History(t *testing.T) {
	anchors := &fakeAnchors{chain: []anchorModels.ChainEntry{
		{Version: 2, DatasetURI: "blob://v2"},
		{Version: 1, DatasetURI: "blob://v1", ChainBroken: true, Reason: "fingerprint mismatch"},
	}}
	router := passportRouter(anchors, &fakeRecorder{}, &fakeVerifier{})

	req := testutil.NewRequest(t, "GET", "/passports/0.0.1234-42/history")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	type historyResponse struct {
		TokenID string                    `json:"tokenId"`
		Chain   []anchorModels.ChainEntry `json:"chain"`
	}
	resp := testutil.UnmarshalResponse[historyResponse](t, rr)
	require.Len(t, resp.Chain, 2)
	assert.True(t, resp.Chain[1].ChainBroken)
}

func TestPassportHandler_Verify(t *testing.T) {
	verifier := &fakeVerifier{report: verify.Report{
		Verified: true,
		Checks: []verify.CheckResult{
			{Name: verify.CheckExists, Passed: true},
			{Name: verify.CheckSignatureValid, Passed: true},
		},
	}}
	router := passportRouter(&fakeAnchors{}, &fakeRecorder{}, verifier)

	req := testutil.NewRequest(t, "GET", "/passports/0.0.1234-42/verify")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[verify.Report](t, rr)
	assert.True(t, resp.Verified)
	assert.Len(t, resp.Checks, 2)
}

// ============================================================================
// Event endpoints
// ============================================================================

func eventRouter(engine *fakeEngine, indexer *fakeIndexer) http.Handler {
	custodian := &fakeCustodian{seed: make([]byte, 32)}
	return NewRouter(discard, NewEventHandler(engine, indexer, custodian, discard))
}

func TestEventHandler_Issue_HappyPath(t *testing.T) {
	engine := &fakeEngine{envelope: credential.Envelope{JWTCompact: "a.b.c", CredentialID: "urn:uuid:1"}}
	indexer := &fakeIndexer{records: []dteModels.DteIndexRecord{
		{ProductID: "prod-1", Role: dteModels.RoleOutput},
	}}
	router := eventRouter(engine, indexer)

	req := testutil.NewJSONRequest(t, "POST", "/events", map[string]any{
		"issuerDid": "did:web:acme.example.com",
		"event": map[string]any{
			"eventId":   "evt-1",
			"eventType": "ObjectEvent",
			"outputs":   []map[string]any{{"productId": "prod-1"}},
		},
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[issueEventResponse](t, rr)
	assert.Equal(t, "a.b.c", resp.JWTCompact)
	require.Len(t, resp.Indexed, 1)
	assert.Equal(t, "prod-1", resp.Indexed[0].ProductID)
}

func TestEventHandler_Issue_MissingEvent(t *testing.T) {
	router := eventRouter(&fakeEngine{}, &fakeIndexer{})

	req := testutil.NewJSONRequest(t, "POST", "/events",
		map[string]any{"issuerDid": "did:web:acme.example.com"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInvalidInput))
}

func TestEventHandler_Issue_UntrustedIssuer(t *testing.T) {
	engine := &fakeEngine{envelope: credential.Envelope{JWTCompact: "a.b.c"}}
	indexer := &fakeIndexer{err: dErrors.New(dErrors.CodeNotAllowlisted, "issuer is not trusted for prod-1")}
	router := eventRouter(engine, indexer)

	req := testutil.NewJSONRequest(t, "POST", "/events", map[string]any{
		"issuerDid": "did:web:rogue.example.com",
		"event": map[string]any{
			"eventId":   "evt-1",
			"eventType": "ObjectEvent",
			"outputs":   []map[string]any{{"productId": "prod-1"}},
		},
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusForbidden)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeNotAllowlisted))
}

func TestEventHandler_PrepareFinalize(t *testing.T) {
	engine := &fakeEngine{
		pending:  credential.PendingSignature{ID: "pend-1", SignableInput: "header.payload"},
		envelope: credential.Envelope{JWTCompact: "a.b.c", CredentialID: "urn:uuid:1"},
	}
	router := eventRouter(engine, &fakeIndexer{})

	prepareReq := testutil.NewJSONRequest(t, "POST", "/events/prepare", map[string]any{
		"issuerDid": "did:web:acme.example.com",
		"event": map[string]any{
			"eventId":   "evt-1",
			"eventType": "ObjectEvent",
			"epcList":   []string{"prod-1"},
		},
	})
	rr := testutil.DoRequest(router, prepareReq)
	testutil.AssertStatus(t, rr, http.StatusAccepted)
	pending := testutil.UnmarshalResponse[credential.PendingSignature](t, rr)
	assert.Equal(t, "pend-1", pending.ID)

	finalizeReq := testutil.NewJSONRequest(t, "POST", "/events/finalize", map[string]any{
		"pendingId": "pend-1",
		"signature": "c2lnbmF0dXJl",
	})
	rr = testutil.DoRequest(router, finalizeReq)
	testutil.AssertStatus(t, rr, http.StatusCreated)
}

func TestEventHandler_Finalize_BadBase64(t *testing.T) {
	router := eventRouter(&fakeEngine{}, &fakeIndexer{})

	req := testutil.NewJSONRequest(t, "POST", "/events/finalize", map[string]any{
		"pendingId": "pend-1",
		"signature": "not base64!!",
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInvalidInput))
}

func TestEventHandler_ProductEvents(t *testing.T) {
	indexer := &fakeIndexer{records: []dteModels.DteIndexRecord{
		{ProductID: "prod-1", EventID: "evt-2", Role: dteModels.RoleOutput},
		{ProductID: "prod-1", EventID: "evt-1", Role: dteModels.RoleInput},
	}}
	router := eventRouter(&fakeEngine{}, indexer)

	req := testutil.NewRequest(t, "GET", "/products/prod-1/events")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	type productResponse struct {
		ProductID string                     `json:"productId"`
		Events    []dteModels.DteIndexRecord `json:"events"`
	}
	resp := testutil.UnmarshalResponse[productResponse](t, rr)
	assert.Len(t, resp.Events, 2)
}

// ============================================================================
// Verification endpoints
// ============================================================================

func TestVerifyHandler_Envelope(t *testing.T) {
	verifier := &fakeVerifier{report: verify.Report{Verified: true}}
	router := NewRouter(discard, NewVerifyHandler(verifier, &fakeRevoker{}, discard))

	req := testutil.NewJSONRequest(t, "POST", "/verify", map[string]string{"jwtCompact": "a.b.c"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[verify.Report](t, rr)
	assert.True(t, resp.Verified)
}

func TestVerifyHandler_Envelope_MissingToken(t *testing.T) {
	router := NewRouter(discard, NewVerifyHandler(&fakeVerifier{}, &fakeRevoker{}, discard))

	req := testutil.NewJSONRequest(t, "POST", "/verify", map[string]string{})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInvalidInput))
}

func TestVerifyHandler_Revoke(t *testing.T) {
	revoker := &fakeRevoker{}
	router := NewRouter(discard, NewVerifyHandler(&fakeVerifier{}, revoker, discard))

	req := testutil.NewJSONRequest(t, "POST", "/credentials/urn:uuid:1/revoke",
		map[string]string{"ttl": "24h"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusNoContent)
	assert.Equal(t, "urn:uuid:1", revoker.gotID)
	assert.Equal(t, 24*time.Hour, revoker.gotTTL)
}

func TestVerifyHandler_Revoke_NoBody(t *testing.T) {
	revoker := &fakeRevoker{}
	router := NewRouter(discard, NewVerifyHandler(&fakeVerifier{}, revoker, discard))

	req := testutil.NewRequest(t, "POST", "/credentials/urn:uuid:1/revoke")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusNoContent)
	assert.Equal(t, time.Duration(0), revoker.gotTTL)
}

// ============================================================================
// Operational endpoints
// ============================================================================

func TestHealthHandler_Readiness(t *testing.T) {
	healthy := NewHealthHandler(HealthCheck{Name: "ledger", Check: func(context.Context) error { return nil }})
	router := NewRouter(discard, healthy)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, "GET", "/readyz"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	broken := NewHealthHandler(HealthCheck{Name: "ledger", Check: func(context.Context) error {
		return dErrors.New(dErrors.CodeTimeout, "ledger unreachable")
	}})
	router = NewRouter(discard, broken)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, "GET", "/readyz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
}
