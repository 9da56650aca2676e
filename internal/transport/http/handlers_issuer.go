package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	idModels "passport-gateway/internal/identity/models"
	"passport-gateway/internal/identity/service"
	"passport-gateway/internal/platform/middleware"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/httputil"
)

// IdentityService defines the issuer operations the handler depends on.
type IdentityService interface {
	RegisterIssuer(ctx context.Context, domain, orgName string) (idModels.IssuerIdentity, error)
	Get(ctx context.Context, did idModels.DID) (idModels.IssuerIdentity, error)
	GenerateDocument(ctx context.Context, did idModels.DID, includeServices bool) (*idModels.Document, error)
	VerifyRemote(ctx context.Context, did idModels.DID) (service.VerifyOutcome, error)
	AddAuthorizedAccount(ctx context.Context, did idModels.DID, account, network string) error
	AddTrustedSupplier(ctx context.Context, did, supplier idModels.DID) error
	RemoveTrustedSupplier(ctx context.Context, did, supplier idModels.DID) error
	TrustedSupplierDIDs(ctx context.Context, did idModels.DID) ([]idModels.DID, error)
}

// IssuerHandler handles issuer identity endpoints.
type IssuerHandler struct {
	logger   *slog.Logger
	identity IdentityService
}

// NewIssuerHandler creates a new issuer Handler.
func NewIssuerHandler(identity IdentityService, logger *slog.Logger) *IssuerHandler {
	return &IssuerHandler{logger: logger, identity: identity}
}

// Register registers the issuer routes with the chi router.
func (h *IssuerHandler) Register(r chi.Router) {
	r.Post("/issuers", h.handleRegister)
	r.Get("/issuers/{did}", h.handleGet)
	r.Get("/issuers/{did}/did.json", h.handleDocument)
	r.Post("/issuers/{did}/verify", h.handleVerify)
	r.Post("/issuers/{did}/accounts", h.handleAddAccount)
	r.Get("/issuers/{did}/trusted-suppliers", h.handleListSuppliers)
	r.Post("/issuers/{did}/trusted-suppliers", h.handleAddSupplier)
	r.Delete("/issuers/{did}/trusted-suppliers/{supplier}", h.handleRemoveSupplier)
}

type registerIssuerRequest struct {
	Domain  string `json:"domain"`
	OrgName string `json:"orgName"`
}

// issuerResponse is the public view of an issuer. Key material is never
// exposed over the transport.
type issuerResponse struct {
	DID                string                   `json:"did"`
	Domain             string                   `json:"domain"`
	OrgName            string                   `json:"orgName"`
	Status             idModels.Status          `json:"status"`
	AuthorizedAccounts []idModels.LedgerAccount `json:"authorizedAccounts,omitempty"`
	TrustedSuppliers   []string                 `json:"trustedSuppliers,omitempty"`
	LastError          string                   `json:"lastError,omitempty"`
}

func toIssuerResponse(identity idModels.IssuerIdentity) issuerResponse {
	suppliers := make([]string, 0, len(identity.TrustedSupplierDIDs))
	for _, d := range identity.TrustedSupplierDIDs {
		suppliers = append(suppliers, string(d))
	}
	return issuerResponse{
		DID:                string(identity.DID),
		Domain:             identity.Domain,
		OrgName:            identity.OrgName,
		Status:             identity.Status,
		AuthorizedAccounts: identity.AuthorizedAccounts,
		TrustedSuppliers:   suppliers,
		LastError:          identity.LastError,
	}
}

func (h *IssuerHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req registerIssuerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid register issuer request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	identity, err := h.identity.RegisterIssuer(ctx, req.Domain, req.OrgName)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to register issuer",
			"request_id", requestID,
			"domain", req.Domain,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toIssuerResponse(identity))
}

func (h *IssuerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := h.identity.Get(ctx, idModels.DID(chi.URLParam(r, "did")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toIssuerResponse(identity))
}

// handleDocument serves the DID document for hosting under the issuer's
// /.well-known path.
func (h *IssuerHandler) handleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	includeServices := r.URL.Query().Get("services") == "true"
	doc, err := h.identity.GenerateDocument(ctx, idModels.DID(chi.URLParam(r, "did")), includeServices)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *IssuerHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	outcome, err := h.identity.VerifyRemote(ctx, idModels.DID(chi.URLParam(r, "did")))
	if err != nil {
		h.logger.ErrorContext(ctx, "issuer verification failed",
			"request_id", requestID,
			"did", chi.URLParam(r, "did"),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, outcome)
}

type addAccountRequest struct {
	Account string `json:"account"`
	Network string `json:"network"`
}

func (h *IssuerHandler) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	err := h.identity.AddAuthorizedAccount(ctx, idModels.DID(chi.URLParam(r, "did")), req.Account, req.Network)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addSupplierRequest struct {
	SupplierDID string `json:"supplierDid"`
}

func (h *IssuerHandler) handleAddSupplier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addSupplierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.SupplierDID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "supplierDid is required"))
		return
	}

	err := h.identity.AddTrustedSupplier(ctx, idModels.DID(chi.URLParam(r, "did")), idModels.DID(req.SupplierDID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IssuerHandler) handleRemoveSupplier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.identity.RemoveTrustedSupplier(ctx,
		idModels.DID(chi.URLParam(r, "did")),
		idModels.DID(chi.URLParam(r, "supplier")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IssuerHandler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	suppliers, err := h.identity.TrustedSupplierDIDs(ctx, idModels.DID(chi.URLParam(r, "did")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]string, 0, len(suppliers))
	for _, d := range suppliers {
		out = append(out, string(d))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"trustedSuppliers": out})
}
