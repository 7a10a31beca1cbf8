package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/welldanyogia/home-iot/internal/api"
	appctx "github.com/welldanyogia/home-iot/internal/context"
	"github.com/welldanyogia/home-iot/internal/security"
)

// Admin panel paths used for redirects
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// AuthHandler handles HTTP requests for admin authentication endpoints
type AuthHandler struct {
	authService *AuthService
	cookie      *SessionCookie
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, cookie *SessionCookie, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		cookie:      cookie,
		logger:      logger,
	}
}

// LoginPage reports whether a login is required
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if state, ok := h.cookie.Read(r); ok {
		if h.authService.Sessions().Validate(r.Context(), state.SessionID, clientIP(r)) {
			http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
			return
		}
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"login_required": true,
	})
}

// Login handles an admin login submission. Every outcome, including
// internal failures and panics, produces a JSON body.
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Login handler panic",
				slog.String("client_ip", ip),
				slog.String("panic", fmt.Sprint(rec)),
			)
			h.writeLoginError(w)
		}
	}()

	password, err := readPassword(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid request body", nil)
		return
	}

	result, err := h.authService.Login(r.Context(), LoginRequest{
		Password:  password,
		ClientIP:  ip,
		UserAgent: r.UserAgent(),
	})

	switch {
	case err == nil:
		if err := h.cookie.Bind(w, r, result.SessionID, result.LoginTime); err != nil {
			h.logger.Error("Failed to bind session cookie",
				slog.String("client_ip", ip),
				slog.String("error", err.Error()),
			)
			_ = h.authService.Logout(r.Context(), result.SessionID)
			h.writeLoginError(w)
			return
		}

		if wantsJSON(r) {
			api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
				"redirect": DashboardPath,
			})
			return
		}
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)

	case errors.Is(err, ErrAccountLocked):
		if result.JustLocked {
			api.WriteError(w, http.StatusTooManyRequests, CodeAccountLocked,
				fmt.Sprintf("Too many failed attempts. Account locked for %d hour(s).", result.Attempts.LockoutDurationHours),
				map[string]interface{}{
					"lockout_duration_hours": result.Attempts.LockoutDurationHours,
					"retry_after_minutes":    result.Attempts.MinutesUntilUnlock(),
				})
			return
		}
		minutes := result.Attempts.MinutesUntilUnlock()
		api.WriteError(w, http.StatusTooManyRequests, CodeAccountLocked,
			fmt.Sprintf("Account temporarily locked due to too many failed attempts. Try again in %d minutes.", minutes),
			map[string]interface{}{"retry_after_minutes": minutes})

	case errors.Is(err, ErrPasswordRequired):
		api.WriteError(w, http.StatusBadRequest, CodePasswordRequired, "Password is required.", nil)

	case errors.Is(err, ErrInvalidPassword):
		remaining := result.Attempts.RemainingAttempts
		api.WriteError(w, http.StatusUnauthorized, CodeInvalidPassword,
			fmt.Sprintf("Invalid password. %d attempts remaining.", remaining),
			map[string]interface{}{"remaining_attempts": remaining})

	default:
		h.logger.Error("Login error",
			slog.String("client_ip", ip),
			slog.String("error", err.Error()),
		)
		h.writeLoginError(w)
	}
}

// Logout destroys the session and clears the cookie. It always succeeds
// from the client's point of view.
// GET|POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if state, ok := h.cookie.Read(r); ok {
		if err := h.authService.Logout(r.Context(), state.SessionID); err != nil {
			h.logger.Error("Failed to destroy session",
				slog.String("client_ip", ip),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.cookie.Clear(w, r); err != nil {
		h.logger.Error("Failed to clear session cookie", slog.String("error", err.Error()))
	}

	h.logger.Info("Admin logout", slog.String("client_ip", ip))
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// SessionInfo returns details of the current admin session
// GET /api/session-info
func (h *AuthHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	state, _ := h.cookie.Read(r)

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"authenticated":   true,
		"login_time":      state.LoginTime,
		"timeout_minutes": int(h.authService.Sessions().Timeout().Minutes()),
		"client_ip":       clientIP(r),
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter) {
	api.WriteError(w, http.StatusInternalServerError, CodeLoginError,
		"An error occurred during login. Please try again or contact administrator.", nil)
}

// readPassword extracts the password from a JSON or form encoded body
func readPassword(r *http.Request) (string, error) {
	if isJSONContent(r) {
		var req LoginRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return "", err
		}
		return req.Password, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("password"), nil
}

func isJSONContent(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// wantsJSON reports whether the caller is an API client rather than a browser form
func wantsJSON(r *http.Request) bool {
	return isJSONContent(r) || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// clientIP returns the IP resolved by the client IP middleware, falling back
// to the transport peer
func clientIP(r *http.Request) string {
	if ip, ok := appctx.ExtractClientIP(r.Context()); ok && ip != "" {
		return ip
	}
	return security.PeerIP(r)
}
