// Package httptransport is the thin HTTP layer. Handlers delegate to the
// domain services without embedding business logic so transport concerns
// remain isolated.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"passport-gateway/internal/platform/middleware"
	"passport-gateway/pkg/platform/httputil"
)

// RouteRegistrar is implemented by every feature handler.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware chain, operational endpoints and every
// registered feature handler.
func NewRouter(logger *slog.Logger, handlers ...RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks []HealthCheck
}

func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
}

func (h *HealthHandler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(r.Context()); err != nil {
			components[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[check.Name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"components": components})
}
