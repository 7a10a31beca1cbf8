package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/repository"
)

// StaleAttemptAge is how long an unlocked failed-login counter is kept after
// its last attempt.
const StaleAttemptAge = time.Hour

// ExpirySweeper removes expired admin sessions and stale failed-login
// counters. It runs lazily as the first step of every session validation and
// lockout check rather than on a schedule.
type ExpirySweeper struct {
	sessionRepo    repository.SessionRepository
	attemptRepo    repository.LoginAttemptRepository
	sessionTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewExpirySweeper creates a new ExpirySweeper
func NewExpirySweeper(
	sessionRepo repository.SessionRepository,
	attemptRepo repository.LoginAttemptRepository,
	sessionTimeout time.Duration,
	logger *slog.Logger,
) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		sessionRepo:    sessionRepo,
		attemptRepo:    attemptRepo,
		sessionTimeout: sessionTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// Sweep deletes sessions idle for longer than the session timeout, deletes
// unlocked counters older than StaleAttemptAge and unlocks expired lockouts
// in place. Failures are logged and never block the caller; every decision
// that depends on this state re-reads it afterwards.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	now := s.now().Unix()

	sessions, err := s.sessionRepo.DeleteInactiveBefore(ctx, now-int64(s.sessionTimeout/time.Second))
	if err != nil {
		s.logger.Error("Failed to sweep expired sessions", slog.String("error", err.Error()))
	} else if sessions > 0 {
		metrics.SweptRows.WithLabelValues("session").Add(float64(sessions))
		s.logger.Info("Expired sessions removed", slog.Int64("count", sessions))
	}

	stale, err := s.attemptRepo.DeleteStale(ctx, now-int64(StaleAttemptAge/time.Second))
	if err != nil {
		s.logger.Error("Failed to sweep stale login attempts", slog.String("error", err.Error()))
	} else if stale > 0 {
		metrics.SweptRows.WithLabelValues("attempt").Add(float64(stale))
	}

	unlocked, err := s.attemptRepo.UnlockExpired(ctx, now)
	if err != nil {
		s.logger.Error("Failed to unlock expired lockouts", slog.String("error", err.Error()))
	} else if unlocked > 0 {
		metrics.SweptRows.WithLabelValues("unlock").Add(float64(unlocked))
		s.logger.Info("Expired lockouts cleared", slog.Int64("count", unlocked))
	}
}
