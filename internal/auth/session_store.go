package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/repository"
)

const (
	// SessionTokenBytes is the entropy of a session ID before encoding
	SessionTokenBytes = 32
	// MaxUserAgentLength is the number of user agent characters stored per session
	MaxUserAgentLength = 200
)

// SessionStatus is the outcome of a session validation
type SessionStatus string

const (
	SessionValid      SessionStatus = "valid"
	SessionMissing    SessionStatus = "missing"
	SessionNotFound   SessionStatus = "not_found"
	SessionExpired    SessionStatus = "expired"
	SessionIPMismatch SessionStatus = "ip_mismatch"
	SessionError      SessionStatus = "error"
)

// SessionStore manages database-backed admin sessions with a sliding
// inactivity timeout. Every validation re-reads the store.
type SessionStore struct {
	repo      repository.SessionRepository
	sweeper   *ExpirySweeper
	timeout   time.Duration
	proxyMode bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewSessionStore creates a new SessionStore. When proxyMode is enabled a
// change of client IP within a session is tolerated.
func NewSessionStore(
	repo repository.SessionRepository,
	sweeper *ExpirySweeper,
	timeout time.Duration,
	proxyMode bool,
	logger *slog.Logger,
) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		repo:      repo,
		sweeper:   sweeper,
		timeout:   timeout,
		proxyMode: proxyMode,
		logger:    logger,
		now:       time.Now,
	}
}

// Timeout returns the configured inactivity timeout
func (s *SessionStore) Timeout() time.Duration {
	return s.timeout
}

// Create starts a new session for clientIP and returns its opaque ID
func (s *SessionStore) Create(ctx context.Context, clientIP, userAgent string) (string, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	if userAgent == "" {
		userAgent = "Unknown"
	}

	now := s.now().Unix()
	session := &repository.AdminSession{
		SessionID:    sessionID,
		ClientIP:     clientIP,
		CreatedAt:    now,
		LastActivity: now,
		UserAgent:    truncateRunes(userAgent, MaxUserAgentLength),
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("Admin session created", slog.String("client_ip", clientIP))
	return sessionID, nil
}

// Validate reports whether sessionID is a live session for clientIP
func (s *SessionStore) Validate(ctx context.Context, sessionID, clientIP string) bool {
	return s.Check(ctx, sessionID, clientIP) == SessionValid
}

// Check validates a session and reports why it failed. Expired sessions are
// deleted; a successful check renews the session's last activity. Storage
// errors are reported as SessionError and never as valid.
func (s *SessionStore) Check(ctx context.Context, sessionID, clientIP string) SessionStatus {
	status := s.check(ctx, sessionID, clientIP)
	metrics.SessionValidations.WithLabelValues(string(status)).Inc()
	return status
}

func (s *SessionStore) check(ctx context.Context, sessionID, clientIP string) SessionStatus {
	s.sweeper.Sweep(ctx)

	if sessionID == "" {
		return SessionMissing
	}

	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return SessionNotFound
		}
		s.logger.Error("Session lookup failed",
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
		)
		return SessionError
	}

	now := s.now().Unix()
	if now-session.LastActivity > int64(s.timeout/time.Second) {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			s.logger.Error("Failed to delete expired session", slog.String("error", err.Error()))
		}
		s.logger.Info("Admin session expired", slog.String("client_ip", clientIP))
		return SessionExpired
	}

	if session.ClientIP != clientIP && !s.proxyMode {
		s.logger.Warn("Admin session IP mismatch",
			slog.String("client_ip", clientIP),
			slog.String("session_ip", session.ClientIP),
		)
		return SessionIPMismatch
	}

	if err := s.repo.Touch(ctx, sessionID, now); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return SessionNotFound
		}
		s.logger.Error("Failed to renew session", slog.String("error", err.Error()))
		return SessionError
	}

	return SessionValid
}

// Destroy deletes the session if it exists. It is safe to call repeatedly.
func (s *SessionStore) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired runs the shared expiry sweep
func (s *SessionStore) CleanupExpired(ctx context.Context) {
	s.sweeper.Sweep(ctx)
}

// generateSessionID returns a URL-safe random token
func generateSessionID() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// truncateRunes cuts s to at most n characters without splitting a rune
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
