package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/home-iot/internal/auth"
)

// Middleware is an HTTP middleware
type Middleware func(http.Handler) http.Handler

// Limits holds the per-route rate limiters of the admin API
type Limits struct {
	Query      Middleware
	QuickQuery Middleware
}

// RegisterRoutes registers the admin API. Every route is wrapped by
// adminAuth, which redirects the dashboard entry points to the login page.
func RegisterRoutes(r chi.Router, h *Handler, adminAuth Middleware, limits Limits) {
	r.Group(func(r chi.Router) {
		r.Use(adminAuth)

		r.Get("/", h.Dashboard)
		r.Get("/admin", h.Dashboard)
		r.Get(auth.DashboardPath, h.Dashboard)
		r.Get("/admin/{device_type}", h.DeviceContext)

		r.With(limits.Query).Post("/api/admin-query", h.Query)
		r.With(limits.QuickQuery).Get("/api/admin-quick-query/{query_type}", h.QuickQuery)
		r.Get("/api/admin-device-query/{device_type}/{query_type}", h.DeviceQuery)
		r.Get("/api/available-queries/{device_type}", h.AvailableQueries)

		r.Get("/api/admin-export/{format}", h.Export)
		r.Get("/api/quick-export/{query_type}/{format}", h.QuickExport)
		r.Get("/api/quick-export/{device_type}/{query_type}/{format}", h.QuickExport)
	})
}
