package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLockoutTracker_Threshold(t *testing.T) {
	ctx := context.Background()
	opts := defaultStackOptions()
	s := newTestStack(opts)
	ip := "1.2.3.4"

	var status AttemptStatus
	for i := 1; i < opts.maxAttempts; i++ {
		status = s.lockout.RecordFailure(ctx, ip)
		assert.False(t, status.IsLocked, "attempt %d", i)
		assert.Equal(t, i, status.AttemptCount)
	}
	assert.Equal(t, 1, status.RemainingAttempts)

	status = s.lockout.RecordFailure(ctx, ip)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 0, status.RemainingAttempts)
	assert.Equal(t, 1, status.LockoutDurationHours)
	require.NotNil(t, status.LockedUntil)
	assert.Equal(t, s.clock.Now().Unix()+3600, status.LockedUntil.Unix())
	assert.Equal(t, int64(3600), status.TimeUntilUnlock)

	// The lock is visible to the read-only check.
	s.clock.Advance(10 * time.Minute)
	status = s.lockout.Status(ctx, ip)
	assert.True(t, status.IsLocked)
	assert.Equal(t, int64(50*60), status.TimeUntilUnlock)
	assert.Equal(t, int64(50), status.MinutesUntilUnlock())
}

func TestLockoutTracker_LockNotExtended(t *testing.T) {
	ctx := context.Background()
	opts := defaultStackOptions()
	opts.maxAttempts = 2
	s := newTestStack(opts)

	s.lockout.RecordFailure(ctx, "1.2.3.4")
	first := s.lockout.RecordFailure(ctx, "1.2.3.4")
	require.True(t, first.IsLocked)

	s.clock.Advance(5 * time.Minute)
	again := s.lockout.RecordFailure(ctx, "1.2.3.4")
	require.True(t, again.IsLocked)
	assert.Equal(t, first.LockedUntil.Unix(), again.LockedUntil.Unix())
}

func TestLockoutTracker_ExpiredLockResetInPlace(t *testing.T) {
	ctx := context.Background()
	opts := defaultStackOptions()
	opts.maxAttempts = 3
	s := newTestStack(opts)
	ip := "1.2.3.4"

	for i := 0; i < opts.maxAttempts; i++ {
		s.lockout.RecordFailure(ctx, ip)
	}
	require.True(t, s.lockout.Status(ctx, ip).IsLocked)

	s.clock.Advance(opts.lockout + time.Second)
	status := s.lockout.Status(ctx, ip)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 0, status.AttemptCount)
	assert.Equal(t, opts.maxAttempts, status.RemainingAttempts)

	_, err := s.attempts.Get(ctx, ip)
	assert.NoError(t, err, "expired lock is reset, not deleted")
}

func TestLockoutTracker_StaleCounterSwept(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(defaultStackOptions())

	s.lockout.RecordFailure(ctx, "1.2.3.4")
	s.clock.Advance(StaleAttemptAge + time.Second)

	status := s.lockout.Status(ctx, "1.2.3.4")
	assert.Equal(t, 0, status.AttemptCount)

	_, err := s.attempts.Get(ctx, "1.2.3.4")
	assert.Error(t, err)
}

func TestLockoutTracker_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(defaultStackOptions())

	s.lockout.RecordFailure(ctx, "1.2.3.4")
	require.NoError(t, s.lockout.Reset(ctx, "1.2.3.4"))

	status := s.lockout.Status(ctx, "1.2.3.4")
	assert.Equal(t, 0, status.AttemptCount)
	assert.False(t, status.IsLocked)
}

func TestLockoutTracker_FailsClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("record", func(t *testing.T) {
		s := newTestStack(defaultStackOptions())
		s.attempts.setFail(true)

		status := s.lockout.RecordFailure(ctx, "1.2.3.4")
		assert.True(t, status.IsLocked)
		assert.Equal(t, int64(3600), status.TimeUntilUnlock)
		assert.Equal(t, 0, status.RemainingAttempts)
	})

	t.Run("status", func(t *testing.T) {
		s := newTestStack(defaultStackOptions())
		s.attempts.setFail(true)

		status := s.lockout.Status(ctx, "1.2.3.4")
		assert.True(t, status.IsLocked)
		require.NotNil(t, status.LockedUntil)
	})
}

// An IP is locked exactly when it has accumulated the threshold of failures.
func TestPropertyLockoutThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		opts := defaultStackOptions()
		opts.maxAttempts = rapid.IntRange(1, 10).Draw(t, "maxAttempts")
		s := newTestStack(opts)

		failures := rapid.IntRange(1, 15).Draw(t, "failures")
		var status AttemptStatus
		for i := 0; i < failures; i++ {
			status = s.lockout.RecordFailure(ctx, "10.0.0.1")
		}

		if want := failures >= opts.maxAttempts; status.IsLocked != want {
			t.Fatalf("after %d/%d failures IsLocked = %v, want %v", failures, opts.maxAttempts, status.IsLocked, want)
		}

		wantRemaining := opts.maxAttempts - failures
		if wantRemaining < 0 {
			wantRemaining = 0
		}
		if status.RemainingAttempts != wantRemaining {
			t.Fatalf("RemainingAttempts = %d, want %d", status.RemainingAttempts, wantRemaining)
		}
	})
}
