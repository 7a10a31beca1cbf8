package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers /health and the probes. limit wraps /health only.
func RegisterRoutes(r chi.Router, h *Handler, limit func(http.Handler) http.Handler) {
	r.With(limit).Get("/health", h.Health)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
}
