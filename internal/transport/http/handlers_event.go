package httptransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"passport-gateway/internal/credential"
	dteModels "passport-gateway/internal/dte/models"
	idModels "passport-gateway/internal/identity/models"
	"passport-gateway/internal/platform/middleware"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/httputil"
)

// CredentialEngine defines the issuance operations the handler depends on.
type CredentialEngine interface {
	IssueWithIdentity(ctx context.Context, c credential.Claims, seed []byte) (credential.Envelope, error)
	Prepare(ctx context.Context, c credential.Claims) (credential.PendingSignature, error)
	Finalize(ctx context.Context, pendingID string, signature []byte) (credential.Envelope, error)
}

// EventIndexer defines the traceability event operations the handler
// depends on.
type EventIndexer interface {
	Index(ctx context.Context, envelope credential.Envelope, dteCID string) ([]dteModels.DteIndexRecord, error)
	EventsForProduct(ctx context.Context, productID string) ([]dteModels.DteIndexRecord, error)
}

// EventHandler handles traceability event endpoints.
type EventHandler struct {
	logger    *slog.Logger
	engine    CredentialEngine
	indexer   EventIndexer
	custodian KeyCustodian
}

// NewEventHandler creates a new event Handler.
func NewEventHandler(
	engine CredentialEngine,
	indexer EventIndexer,
	custodian KeyCustodian,
	logger *slog.Logger) *EventHandler {
	return &EventHandler{
		logger:    logger,
		engine:    engine,
		indexer:   indexer,
		custodian: custodian,
	}
}

// Register registers the event routes with the chi router.
func (h *EventHandler) Register(r chi.Router) {
	r.Post("/events", h.handleIssue)
	r.Post("/events/prepare", h.handlePrepare)
	r.Post("/events/finalize", h.handleFinalize)
	r.Get("/products/{productId}/events", h.handleProductEvents)
}

type issueEventRequest struct {
	IssuerDID string                `json:"issuerDid"`
	SubjectID string                `json:"subjectId,omitempty"`
	DteCID    string                `json:"dteCid,omitempty"`
	Event     *credential.EventBody `json:"event"`
}

type issueEventResponse struct {
	JWTCompact   string                     `json:"jwtCompact"`
	CredentialID string                     `json:"credentialId"`
	Indexed      []dteModels.DteIndexRecord `json:"indexed"`
}

func eventClaims(req issueEventRequest) (credential.Claims, error) {
	if req.IssuerDID == "" || req.Event == nil {
		return credential.Claims{}, dErrors.New(dErrors.CodeInvalidInput, "issuerDid and event are required")
	}
	return credential.Claims{
		Issuer:  req.IssuerDID,
		Subject: req.SubjectID,
		Body: credential.SubjectBody{
			Kind:  credential.KindEvent,
			Event: req.Event,
		},
	}, nil
}

// handleIssue signs an event with the gateway-held key and indexes it in
// one step.
func (h *EventHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req issueEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	claims, err := eventClaims(req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	seed, err := h.custodian.DecryptSigningKey(ctx, idModels.DID(req.IssuerDID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.engine.IssueWithIdentity(ctx, claims, seed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.indexer.Index(ctx, envelope, req.DteCID)
	if err != nil {
		h.logger.WarnContext(ctx, "event rejected at indexing",
			"request_id", requestID,
			"issuerDid", req.IssuerDID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, issueEventResponse{
		JWTCompact:   envelope.JWTCompact,
		CredentialID: envelope.CredentialID,
		Indexed:      records,
	})
}

type prepareEventRequest struct {
	IssuerDID string                `json:"issuerDid"`
	SubjectID string                `json:"subjectId,omitempty"`
	Event     *credential.EventBody `json:"event"`
}

// handlePrepare starts the external signing flow. The caller signs the
// returned input with its own key and completes via finalize.
func (h *EventHandler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req prepareEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	claims, err := eventClaims(issueEventRequest{
		IssuerDID: req.IssuerDID,
		SubjectID: req.SubjectID,
		Event:     req.Event,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pending, err := h.engine.Prepare(ctx, claims)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, pending)
}

type finalizeEventRequest struct {
	PendingID string `json:"pendingId"`
	Signature string `json:"signature"` // base64
	DteCID    string `json:"dteCid,omitempty"`
}

func (h *EventHandler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req finalizeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "signature is not valid base64"))
		return
	}

	envelope, err := h.engine.Finalize(ctx, req.PendingID, signature)
	if err != nil {
		h.logger.WarnContext(ctx, "finalize rejected",
			"request_id", requestID,
			"pendingId", req.PendingID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	records, err := h.indexer.Index(ctx, envelope, req.DteCID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, issueEventResponse{
		JWTCompact:   envelope.JWTCompact,
		CredentialID: envelope.CredentialID,
		Indexed:      records,
	})
}

func (h *EventHandler) handleProductEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := chi.URLParam(r, "productId")

	records, err := h.indexer.EventsForProduct(ctx, productID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"productId": productID,
		"events":    records,
	})
}
