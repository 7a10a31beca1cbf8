package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/welldanyogia/home-iot/internal/api"
	"github.com/welldanyogia/home-iot/internal/auth"
	appctx "github.com/welldanyogia/home-iot/internal/context"
	"github.com/welldanyogia/home-iot/internal/logger"
	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/security"
)

// Error codes returned by the auth gates
const (
	CodeAuthRequired      = api.CodeAuthRequired
	CodeInvalidAuthFormat = "INVALID_AUTH_FORMAT"
	CodeInvalidToken      = "INVALID_TOKEN"
)

const bearerPrefix = "Bearer "

// DeviceAuth guards device endpoints with a static bearer token
type DeviceAuth struct {
	token  string
	logger *slog.Logger
}

// NewDeviceAuth creates a new DeviceAuth gate for the configured API token
func NewDeviceAuth(token string, log *slog.Logger) *DeviceAuth {
	if log == nil {
		log = slog.Default()
	}
	return &DeviceAuth{token: token, logger: log}
}

// Authenticate requires "Authorization: Bearer <token>" matching the
// configured device token
func (m *DeviceAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := requestIP(r)

		header := r.Header.Get("Authorization")
		if header == "" {
			m.reject(w, ip, "missing", CodeAuthRequired, "Authorization header is required")
			return
		}

		if !strings.HasPrefix(header, bearerPrefix) {
			m.reject(w, ip, "malformed", CodeInvalidAuthFormat, "Invalid authorization format. Use: Bearer <token>")
			return
		}

		provided := strings.TrimPrefix(header, bearerPrefix)
		if !security.SecureCompare(provided, m.token) {
			m.logger.Warn("Invalid device token",
				slog.String("client_ip", ip),
				slog.String("key_hint", logger.MaskSecret(provided)),
			)
			m.reject(w, ip, "invalid", CodeInvalidToken, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *DeviceAuth) reject(w http.ResponseWriter, ip, reason, code, message string) {
	metrics.DeviceAuthRejections.WithLabelValues(reason).Inc()
	m.logger.Warn("Device authentication rejected",
		slog.String("client_ip", ip),
		slog.String("reason", reason),
	)
	api.WriteError(w, http.StatusUnauthorized, code, message, nil)
}

// SessionChecker validates admin session IDs
type SessionChecker interface {
	Check(ctx context.Context, sessionID, clientIP string) auth.SessionStatus
}

// CookieReader reads the admin session cookie of a request
type CookieReader interface {
	Read(r *http.Request) (auth.CookieState, bool)
}

// DashboardPaths are the admin entry points that redirect to the login page
// instead of answering with a JSON error
var DashboardPaths = []string{"/", "/admin", auth.DashboardPath}

// AdminAuth guards admin panel routes with a database-backed session
type AdminAuth struct {
	sessions SessionChecker
	cookie   CookieReader
	logger   *slog.Logger
}

// NewAdminAuth creates a new AdminAuth gate
func NewAdminAuth(sessions SessionChecker, cookie CookieReader, log *slog.Logger) *AdminAuth {
	if log == nil {
		log = slog.Default()
	}
	return &AdminAuth{sessions: sessions, cookie: cookie, logger: log}
}

// Authenticate validates the session cookie and injects the session ID into
// the request context
func (m *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := requestIP(r)

		state, _ := m.cookie.Read(r)
		status := m.sessions.Check(r.Context(), state.SessionID, ip)
		if status != auth.SessionValid {
			if status != auth.SessionMissing {
				m.logger.Warn("Admin session rejected",
					slog.String("client_ip", ip),
					slog.String("status", string(status)),
					slog.String("path", r.URL.Path),
				)
			}

			if isDashboardPath(r.URL.Path) {
				http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
				return
			}
			api.WriteError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required", nil)
			return
		}

		ctx := appctx.WithSessionID(r.Context(), state.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isDashboardPath(path string) bool {
	for _, p := range DashboardPaths {
		if path == p {
			return true
		}
	}
	return false
}

// requestIP returns the client IP resolved by ClientIP, or the transport
// peer when the middleware did not run
func requestIP(r *http.Request) string {
	if ip, ok := appctx.ExtractClientIP(r.Context()); ok && ip != "" {
		return ip
	}
	return security.PeerIP(r)
}
