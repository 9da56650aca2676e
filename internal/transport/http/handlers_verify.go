package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"passport-gateway/internal/platform/middleware"
	"passport-gateway/internal/verify"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/platform/httputil"
)

// EnvelopeVerifier verifies a standalone credential that may not be
// anchored.
type EnvelopeVerifier interface {
	VerifyEnvelope(ctx context.Context, jwtCompact string) (verify.Report, error)
}

// Revoker marks a credential as revoked.
type Revoker interface {
	Revoke(ctx context.Context, credentialID string, ttl time.Duration) error
}

// VerifyHandler handles credential verification and revocation endpoints.
type VerifyHandler struct {
	logger   *slog.Logger
	verifier EnvelopeVerifier
	revoker  Revoker
}

// NewVerifyHandler creates a new verification Handler.
func NewVerifyHandler(verifier EnvelopeVerifier, revoker Revoker, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{logger: logger, verifier: verifier, revoker: revoker}
}

// Register registers the verification routes with the chi router.
func (h *VerifyHandler) Register(r chi.Router) {
	r.Post("/verify", h.handleVerify)
	r.Post("/credentials/{credentialId}/revoke", h.handleRevoke)
}

type verifyRequest struct {
	JWTCompact string `json:"jwtCompact"`
}

func (h *VerifyHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.JWTCompact == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "jwtCompact is required"))
		return
	}

	report, err := h.verifier.VerifyEnvelope(ctx, req.JWTCompact)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification pipeline error",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

type revokeRequest struct {
	TTL string `json:"ttl,omitempty"` // Go duration, zero keeps the entry forever
}

func (h *VerifyHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credentialID := chi.URLParam(r, "credentialId")

	// Body is optional; absent means revoke without expiry.
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "ttl is not a valid duration"))
			return
		}
		ttl = parsed
	}

	if err := h.revoker.Revoke(ctx, credentialID, ttl); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
