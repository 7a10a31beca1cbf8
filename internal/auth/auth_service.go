package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/welldanyogia/home-iot/internal/metrics"
)

// Auth service errors
var (
	ErrAccountLocked    = errors.New("too many failed login attempts")
	ErrPasswordRequired = errors.New("password is required")
	ErrInvalidPassword  = errors.New("invalid password")
)

// Error codes for API responses
const (
	CodeAccountLocked    = "ACCOUNT_LOCKED"
	CodePasswordRequired = "PASSWORD_REQUIRED"
	CodeInvalidPassword  = "INVALID_PASSWORD"
	CodeLoginError       = "LOGIN_ERROR"
)

// LoginRequest represents an admin login submission
type LoginRequest struct {
	Password  string `json:"password"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResult is returned for every login outcome. Attempts is populated for
// lockout and invalid password failures; SessionID only on success.
type LoginResult struct {
	SessionID string
	LoginTime time.Time
	Attempts  AttemptStatus
	// JustLocked is set when this failure is the one that triggered the lock
	JustLocked bool
}

// AuthService implements the admin login flow over the lockout tracker and
// the session store
type AuthService struct {
	sessions *SessionStore
	lockout  *LockoutTracker
	verifier *PasswordVerifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	sessions *SessionStore,
	lockout *LockoutTracker,
	verifier *PasswordVerifier,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		sessions: sessions,
		lockout:  lockout,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Sessions returns the session store used by the service
func (s *AuthService) Sessions() *SessionStore {
	return s.sessions
}

// Lockout returns the lockout tracker used by the service
func (s *AuthService) Lockout() *LockoutTracker {
	return s.lockout
}

// Login runs one login attempt:
//  1. a locked IP is refused with ErrAccountLocked before the password is looked at
//  2. an empty password is refused with ErrPasswordRequired and not counted
//  3. a correct password clears the IP's failures and creates a session
//  4. a wrong password is counted; the result is ErrAccountLocked when that
//     failure locked the IP and ErrInvalidPassword otherwise
//
// Any other error is an internal failure.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result := &LoginResult{}

	status := s.lockout.Status(ctx, req.ClientIP)
	if status.IsLocked {
		result.Attempts = status
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.logger.Warn("Blocked login attempt from locked IP",
			slog.String("client_ip", req.ClientIP),
			slog.Int64("unlocks_in_minutes", status.MinutesUntilUnlock()),
		)
		return result, ErrAccountLocked
	}

	if req.Password == "" {
		metrics.LoginAttempts.WithLabelValues("missing_password").Inc()
		return result, ErrPasswordRequired
	}

	if s.verifier.Verify(req.Password) {
		if err := s.lockout.Reset(ctx, req.ClientIP); err != nil {
			s.logger.Error("Failed to reset login attempts",
				slog.String("client_ip", req.ClientIP),
				slog.String("error", err.Error()),
			)
		}

		sessionID, err := s.sessions.Create(ctx, req.ClientIP, req.UserAgent)
		if err != nil {
			metrics.LoginAttempts.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("login failed: %w", err)
		}

		result.SessionID = sessionID
		result.LoginTime = s.now()
		metrics.LoginAttempts.WithLabelValues("success").Inc()
		s.logger.Info("Successful admin login", slog.String("client_ip", req.ClientIP))
		return result, nil
	}

	status = s.lockout.RecordFailure(ctx, req.ClientIP)
	result.Attempts = status

	if status.IsLocked {
		result.JustLocked = true
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.logger.Warn("Failed admin login, IP locked",
			slog.String("client_ip", req.ClientIP),
			slog.Int("attempt_count", status.AttemptCount),
		)
		return result, ErrAccountLocked
	}

	metrics.LoginAttempts.WithLabelValues("invalid").Inc()
	s.logger.Warn("Failed admin login",
		slog.String("client_ip", req.ClientIP),
		slog.Int("attempt_count", status.AttemptCount),
		slog.Int("remaining_attempts", status.RemainingAttempts),
	)
	return result, ErrInvalidPassword
}

// Logout destroys the session. Storage errors are returned but the caller
// must still clear the client cookie.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Destroy(ctx, sessionID)
}
