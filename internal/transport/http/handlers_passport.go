package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"passport-gateway/internal/anchor"
	anchorModels "passport-gateway/internal/anchor/models"
	"passport-gateway/internal/credential"
	idModels "passport-gateway/internal/identity/models"
	"passport-gateway/internal/platform/middleware"
	"passport-gateway/internal/verify"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/httputil"
)

// AnchorService defines the passport lifecycle operations the handler
// depends on.
type AnchorService interface {
	CreateInitial(ctx context.Context, tokenID string, claims credential.Claims, seed []byte) (anchor.Proposal, error)
	PrepareUpdate(ctx context.Context, req anchor.UpdateRequest) (anchor.Proposal, error)
	CurrentPassport(ctx context.Context, tokenID string) (credential.Claims, anchorModels.AnchorRecord, error)
	WalkChain(ctx context.Context, tokenID string) ([]anchorModels.ChainEntry, error)
}

// AnchorRecorder confirms prepared versions on the ledger and transitions
// anchors to revoked.
type AnchorRecorder interface {
	RecordAnchor(ctx context.Context, record anchorModels.AnchorRecord) error
	RevokeAnchor(ctx context.Context, tokenID string) error
}

// KeyCustodian releases an issuer's signing seed for gateway-side signing.
type KeyCustodian interface {
	DecryptSigningKey(ctx context.Context, did idModels.DID) ([]byte, error)
}

// TokenVerifier runs the verification pipeline against an anchored token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenID string) (verify.Report, error)
}

// PassportHandler handles passport lifecycle endpoints.
type PassportHandler struct {
	logger    *slog.Logger
	anchors   AnchorService
	recorder  AnchorRecorder
	custodian KeyCustodian
	verifier  TokenVerifier
}

// NewPassportHandler creates a new passport Handler.
func NewPassportHandler(
	anchors AnchorService,
	recorder AnchorRecorder,
	custodian KeyCustodian,
	verifier TokenVerifier,
	logger *slog.Logger) *PassportHandler {
	return &PassportHandler{
		logger:    logger,
		anchors:   anchors,
		recorder:  recorder,
		custodian: custodian,
		verifier:  verifier,
	}
}

// Register registers the passport routes with the chi router.
func (h *PassportHandler) Register(r chi.Router) {
	r.Post("/passports", h.handleCreate)
	r.Get("/passports/{tokenId}", h.handleGet)
	r.Post("/passports/{tokenId}/updates", h.handlePrepareUpdate)
	r.Post("/passports/{tokenId}/anchors", h.handleRecordAnchor)
	r.Post("/passports/{tokenId}/revoke", h.handleRevokeAnchor)
	r.Get("/passports/{tokenId}/history", h.handleHistory)
	r.Get("/passports/{tokenId}/verify", h.handleVerify)
}

type createPassportRequest struct {
	TokenID   string         `json:"tokenId"`
	IssuerDID string         `json:"issuerDid"`
	SubjectID string         `json:"subjectId"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Passport  map[string]any `json:"passport"`
}

func (h *PassportHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req createPassportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.TokenID == "" || req.IssuerDID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "tokenId and issuerDid are required"))
		return
	}

	seed, err := h.custodian.DecryptSigningKey(ctx, idModels.DID(req.IssuerDID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claims := credential.Claims{
		Issuer:  req.IssuerDID,
		Subject: req.SubjectID,
		Body: credential.SubjectBody{
			Kind:     credential.KindPassport,
			Passport: req.Passport,
		},
	}
	if req.ExpiresAt != nil {
		claims.ExpiresAt = *req.ExpiresAt
	}

	proposal, err := h.anchors.CreateInitial(ctx, req.TokenID, claims, seed)
	if err != nil {
		h.logger.WarnContext(ctx, "passport creation rejected",
			"request_id", requestID,
			"tokenId", req.TokenID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, proposal)
}

func (h *PassportHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")

	claims, record, err := h.anchors.CurrentPassport(ctx, tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"tokenId":  tokenID,
		"anchor":   record,
		"passport": claims,
	})
}

type updatePassportRequest struct {
	Patch           map[string]any `json:"patch"`
	ExpectedVersion int64          `json:"expectedVersion"`
	IssuerDID       string         `json:"issuerDid,omitempty"`
}

func (h *PassportHandler) handlePrepareUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	tokenID := chi.URLParam(r, "tokenId")

	var req updatePassportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Patch) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "patch must not be empty"))
		return
	}

	signingDID := req.IssuerDID
	if signingDID == "" {
		current, _, err := h.anchors.CurrentPassport(ctx, tokenID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		signingDID = current.Issuer
	}

	seed, err := h.custodian.DecryptSigningKey(ctx, idModels.DID(signingDID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	proposal, err := h.anchors.PrepareUpdate(ctx, anchor.UpdateRequest{
		TokenID:         tokenID,
		Patch:           req.Patch,
		Seed:            seed,
		ExpectedVersion: req.ExpectedVersion,
		IssuerDID:       signingDID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "passport update rejected",
			"request_id", requestID,
			"tokenId", tokenID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, proposal)
}

type recordAnchorRequest struct {
	DatasetURI         string                   `json:"datasetUri"`
	PayloadFingerprint string                   `json:"payloadFingerprint"`
	DatasetType        string                   `json:"datasetType,omitempty"`
	Granularity        anchorModels.Granularity `json:"granularity,omitempty"`
	SubjectIDHash      string                   `json:"subjectIdHash,omitempty"`
	Version            int64                    `json:"version"`
	Account            string                   `json:"account,omitempty"`
}

// handleRecordAnchor confirms a prepared version after the caller has
// anchored it on the ledger.
func (h *PassportHandler) handleRecordAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")

	var req recordAnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.DatasetURI == "" || req.PayloadFingerprint == "" || req.Version < 1 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput,
			"datasetUri, payloadFingerprint and a positive version are required"))
		return
	}

	err := h.recorder.RecordAnchor(ctx, anchorModels.AnchorRecord{
		TokenID:            tokenID,
		DatasetURI:         req.DatasetURI,
		PayloadFingerprint: req.PayloadFingerprint,
		DatasetType:        req.DatasetType,
		Granularity:        req.Granularity,
		SubjectIDHash:      req.SubjectIDHash,
		Version:            req.Version,
		Account:            req.Account,
		AnchoredAt:         time.Now().UTC(),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeAnchor transitions the token's anchor to Revoked.
func (h *PassportHandler) handleRevokeAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")

	if err := h.recorder.RevokeAnchor(ctx, tokenID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PassportHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")

	entries, err := h.anchors.WalkChain(ctx, tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"tokenId": tokenID,
		"chain":   entries,
	})
}

func (h *PassportHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")

	report, err := h.verifier.VerifyToken(ctx, tokenID)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification pipeline error",
			"request_id", middleware.GetRequestID(ctx),
			"tokenId", tokenID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}
