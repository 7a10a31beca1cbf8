package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(s *testStack, password string) (*LoginResult, error) {
	return s.service.Login(context.Background(), LoginRequest{
		Password:  password,
		ClientIP:  "1.2.3.4",
		UserAgent: "test-agent",
	})
}

func TestAuthService_LoginSuccess(t *testing.T) {
	s := newTestStack(defaultStackOptions())

	_, err := login(s, "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)

	result, err := login(s, "correct-horse-battery")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, s.clock.Now(), result.LoginTime)

	_, err = s.attempts.Get(context.Background(), "1.2.3.4")
	assert.Error(t, err, "successful login clears failed attempts")

	assert.True(t, s.store.Validate(context.Background(), result.SessionID, "1.2.3.4"))
}

func TestAuthService_PasswordRequired(t *testing.T) {
	s := newTestStack(defaultStackOptions())

	_, err := login(s, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	status := s.lockout.Status(context.Background(), "1.2.3.4")
	assert.Equal(t, 0, status.AttemptCount, "empty submissions are not counted")
}

func TestAuthService_InvalidPasswordReportsRemaining(t *testing.T) {
	s := newTestStack(defaultStackOptions())

	result, err := login(s, "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)
	assert.Equal(t, 7, result.Attempts.RemainingAttempts)
	assert.Equal(t, 1, result.Attempts.AttemptCount)
}

// Eight wrong passwords lock the IP; the correct password is refused until the
// lock runs out.
func TestAuthService_LockoutScenario(t *testing.T) {
	opts := defaultStackOptions()
	s := newTestStack(opts)

	for i := 1; i < opts.maxAttempts; i++ {
		_, err := login(s, "wrong")
		require.ErrorIs(t, err, ErrInvalidPassword, "attempt %d", i)
	}

	result, err := login(s, "wrong")
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.True(t, result.JustLocked)
	assert.Equal(t, 1, result.Attempts.LockoutDurationHours)

	result, err = login(s, "correct-horse-battery")
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.False(t, result.JustLocked)
	assert.Empty(t, result.SessionID)
	assert.Equal(t, int64(60), result.Attempts.MinutesUntilUnlock())

	s.clock.Advance(opts.lockout + time.Second)

	result, err = login(s, "correct-horse-battery")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
}

func TestAuthService_ResetAfterLockRequiresOperator(t *testing.T) {
	opts := defaultStackOptions()
	opts.maxAttempts = 2
	s := newTestStack(opts)

	login(s, "wrong")
	_, err := login(s, "wrong")
	require.ErrorIs(t, err, ErrAccountLocked)

	require.NoError(t, s.lockout.Reset(context.Background(), "1.2.3.4"))

	_, err = login(s, "correct-horse-battery")
	assert.NoError(t, err)
}

func TestAuthService_StorageFailures(t *testing.T) {
	t.Run("lockout store down refuses login", func(t *testing.T) {
		s := newTestStack(defaultStackOptions())
		s.attempts.setFail(true)

		_, err := login(s, "correct-horse-battery")
		assert.ErrorIs(t, err, ErrAccountLocked)
	})

	t.Run("session store down is an internal error", func(t *testing.T) {
		s := newTestStack(defaultStackOptions())
		s.sessions.setFail(true)

		_, err := login(s, "correct-horse-battery")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errStorage))
		assert.False(t, errors.Is(err, ErrAccountLocked))
		assert.False(t, errors.Is(err, ErrInvalidPassword))
	})
}

func TestAuthService_Logout(t *testing.T) {
	s := newTestStack(defaultStackOptions())

	result, err := login(s, "correct-horse-battery")
	require.NoError(t, err)

	require.NoError(t, s.service.Logout(context.Background(), result.SessionID))
	require.NoError(t, s.service.Logout(context.Background(), result.SessionID))
	assert.False(t, s.store.Validate(context.Background(), result.SessionID, "1.2.3.4"))
}
