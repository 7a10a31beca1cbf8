package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/repository"
)

// FailClosedLockout is the synthetic lock reported when the attempt store
// cannot be read or written.
const FailClosedLockout = time.Hour

// AttemptStatus describes the failed-login state of a client IP
type AttemptStatus struct {
	AttemptCount         int        `json:"attempt_count"`
	IsLocked             bool       `json:"is_locked"`
	LockedUntil          *time.Time `json:"locked_until,omitempty"`
	RemainingAttempts    int        `json:"remaining_attempts"`
	LockoutDurationHours int        `json:"lockout_duration_hours"`
	TimeUntilUnlock      int64      `json:"time_until_unlock"`
}

// MinutesUntilUnlock rounds the remaining lock time down to minutes, never
// reporting less than one minute.
func (a AttemptStatus) MinutesUntilUnlock() int64 {
	if m := a.TimeUntilUnlock / 60; m > 1 {
		return m
	}
	return 1
}

// LockoutTracker counts failed admin logins per client IP and locks an IP
// once the configured threshold is reached. Storage failures are reported as
// a lock.
type LockoutTracker struct {
	repo        repository.LoginAttemptRepository
	sweeper     *ExpirySweeper
	maxAttempts int
	lockout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewLockoutTracker creates a new LockoutTracker
func NewLockoutTracker(
	repo repository.LoginAttemptRepository,
	sweeper *ExpirySweeper,
	maxAttempts int,
	lockout time.Duration,
	logger *slog.Logger,
) *LockoutTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockoutTracker{
		repo:        repo,
		sweeper:     sweeper,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordFailure registers a failed login for clientIP and returns the
// resulting state, locking the IP when the threshold is reached.
func (t *LockoutTracker) RecordFailure(ctx context.Context, clientIP string) AttemptStatus {
	t.sweeper.Sweep(ctx)

	now := t.now()
	lockUntil := now.Add(t.lockout).Unix()

	attempt, err := t.repo.Increment(ctx, clientIP, now.Unix(), t.maxAttempts, lockUntil)
	if err != nil {
		t.logger.Error("Failed to record login attempt, treating IP as locked",
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
		)
		return t.failClosed(now)
	}

	status := t.statusFrom(attempt, now)
	if status.IsLocked && attempt.AttemptCount == t.maxAttempts {
		metrics.LockoutsTriggered.Inc()
		t.logger.Warn("Client IP locked out",
			slog.String("client_ip", clientIP),
			slog.Int("attempt_count", attempt.AttemptCount),
			slog.Int("lockout_hours", status.LockoutDurationHours),
		)
	}

	return status
}

// Status returns the current state for clientIP without modifying it
func (t *LockoutTracker) Status(ctx context.Context, clientIP string) AttemptStatus {
	t.sweeper.Sweep(ctx)

	now := t.now()

	attempt, err := t.repo.Get(ctx, clientIP)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return AttemptStatus{
				RemainingAttempts:    t.maxAttempts,
				LockoutDurationHours: t.lockoutHours(),
			}
		}
		t.logger.Error("Failed to read login attempts, treating IP as locked",
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
		)
		return t.failClosed(now)
	}

	return t.statusFrom(attempt, now)
}

// Reset forgets all failed attempts of clientIP
func (t *LockoutTracker) Reset(ctx context.Context, clientIP string) error {
	return t.repo.Delete(ctx, clientIP)
}

func (t *LockoutTracker) statusFrom(attempt *repository.FailedLoginAttempt, now time.Time) AttemptStatus {
	status := AttemptStatus{
		AttemptCount:         attempt.AttemptCount,
		LockoutDurationHours: t.lockoutHours(),
	}

	if remaining := t.maxAttempts - attempt.AttemptCount; remaining > 0 {
		status.RemainingAttempts = remaining
	}

	if attempt.LockedUntil != nil && *attempt.LockedUntil > now.Unix() {
		until := time.Unix(*attempt.LockedUntil, 0).UTC()
		status.IsLocked = true
		status.LockedUntil = &until
		status.TimeUntilUnlock = *attempt.LockedUntil - now.Unix()
	}

	return status
}

func (t *LockoutTracker) failClosed(now time.Time) AttemptStatus {
	until := now.Add(FailClosedLockout).UTC()
	return AttemptStatus{
		AttemptCount:         t.maxAttempts,
		IsLocked:             true,
		LockedUntil:          &until,
		RemainingAttempts:    0,
		LockoutDurationHours: int(FailClosedLockout / time.Hour),
		TimeUntilUnlock:      int64(FailClosedLockout / time.Second),
	}
}

func (t *LockoutTracker) lockoutHours() int {
	return int(t.lockout / time.Hour)
}
