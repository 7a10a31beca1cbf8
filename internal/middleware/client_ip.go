package middleware

import (
	"net/http"

	appctx "github.com/welldanyogia/home-iot/internal/context"
	"github.com/welldanyogia/home-iot/internal/security"
)

// ClientIP resolves the originating client address once per request and
// stores it in the request context for the gates, rate limiters and handlers
func ClientIP(resolver *security.ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := appctx.WithClientIP(r.Context(), resolver.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
