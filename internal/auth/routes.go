package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers the admin authentication routes with the Chi router.
// loginLimit throttles login submissions; adminAuth guards session-only routes.
func RegisterRoutes(r chi.Router, handler *AuthHandler, loginLimit, adminAuth Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(loginLimit)
		r.Get(LoginPath, handler.LoginPage)
		r.Post(LoginPath, handler.Login)
	})

	r.Get("/logout", handler.Logout)
	r.Post("/logout", handler.Logout)

	r.Group(func(r chi.Router) {
		r.Use(adminAuth)
		r.Get("/api/session-info", handler.SessionInfo)
	})
}
