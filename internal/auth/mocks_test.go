package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/home-iot/internal/repository"
)

var errStorage = errors.New("storage unavailable")

// Mock implementations for testing

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockSessionRepository implements repository.SessionRepository for testing
type mockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*repository.AdminSession
	fail     bool
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[string]*repository.AdminSession)}
}

func (m *mockSessionRepository) Create(ctx context.Context, session *repository.AdminSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStorage
	}
	copied := *session
	m.sessions[session.SessionID] = &copied
	return nil
}

func (m *mockSessionRepository) GetByID(ctx context.Context, sessionID string) (*repository.AdminSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStorage
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockSessionRepository) Touch(ctx context.Context, sessionID string, lastActivity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStorage
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	session.LastActivity = lastActivity
	return nil
}

func (m *mockSessionRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStorage
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *mockSessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStorage
	}
	var n int64
	for id, session := range m.sessions {
		if session.LastActivity < cutoff {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepository) CountActive(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStorage
	}
	return len(m.sessions), nil
}

func (m *mockSessionRepository) get(id string) (*repository.AdminSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *mockSessionRepository) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// mockLoginAttemptRepository implements repository.LoginAttemptRepository for testing
type mockLoginAttemptRepository struct {
	mu       sync.Mutex
	attempts map[string]*repository.FailedLoginAttempt
	fail     bool
}

func newMockLoginAttemptRepository() *mockLoginAttemptRepository {
	return &mockLoginAttemptRepository{attempts: make(map[string]*repository.FailedLoginAttempt)}
}

func (m *mockLoginAttemptRepository) Get(ctx context.Context, clientIP string) (*repository.FailedLoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStorage
	}
	attempt, ok := m.attempts[clientIP]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (m *mockLoginAttemptRepository) Increment(ctx context.Context, clientIP string, now int64, maxAttempts int, lockUntil int64) (*repository.FailedLoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStorage
	}

	attempt, ok := m.attempts[clientIP]
	if !ok {
		attempt = &repository.FailedLoginAttempt{ClientIP: clientIP}
		m.attempts[clientIP] = attempt
	}
	attempt.AttemptCount++
	attempt.LastAttempt = now
	if attempt.LockedUntil == nil && attempt.AttemptCount >= maxAttempts {
		until := lockUntil
		attempt.LockedUntil = &until
	}

	copied := *attempt
	return &copied, nil
}

func (m *mockLoginAttemptRepository) Delete(ctx context.Context, clientIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStorage
	}
	delete(m.attempts, clientIP)
	return nil
}

func (m *mockLoginAttemptRepository) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStorage
	}
	var n int64
	for ip, attempt := range m.attempts {
		if attempt.LockedUntil == nil && attempt.LastAttempt < cutoff {
			delete(m.attempts, ip)
			n++
		}
	}
	return n, nil
}

func (m *mockLoginAttemptRepository) UnlockExpired(ctx context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStorage
	}
	var n int64
	for _, attempt := range m.attempts {
		if attempt.LockedUntil != nil && *attempt.LockedUntil < now {
			attempt.LockedUntil = nil
			attempt.AttemptCount = 0
			n++
		}
	}
	return n, nil
}

func (m *mockLoginAttemptRepository) CountLocked(ctx context.Context, now int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStorage
	}
	n := 0
	for _, attempt := range m.attempts {
		if attempt.LockedUntil != nil && *attempt.LockedUntil > now {
			n++
		}
	}
	return n, nil
}

func (m *mockLoginAttemptRepository) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// testStack wires the auth components over mock repositories and a fake clock
type testStack struct {
	clock    *fakeClock
	sessions *mockSessionRepository
	attempts *mockLoginAttemptRepository
	store    *SessionStore
	lockout  *LockoutTracker
	service  *AuthService
}

type stackOptions struct {
	timeout     time.Duration
	maxAttempts int
	lockout     time.Duration
	proxyMode   bool
	password    string
}

func defaultStackOptions() stackOptions {
	return stackOptions{
		timeout:     30 * time.Minute,
		maxAttempts: 8,
		lockout:     time.Hour,
		proxyMode:   true,
		password:    "correct-horse-battery",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStack(opts stackOptions) *testStack {
	clock := newFakeClock()
	sessions := newMockSessionRepository()
	attempts := newMockLoginAttemptRepository()
	logger := discardLogger()

	sweeper := NewExpirySweeper(sessions, attempts, opts.timeout, logger)
	sweeper.now = clock.Now

	store := NewSessionStore(sessions, sweeper, opts.timeout, opts.proxyMode, logger)
	store.now = clock.Now

	lockout := NewLockoutTracker(attempts, sweeper, opts.maxAttempts, opts.lockout, logger)
	lockout.now = clock.Now

	verifier, err := NewPasswordVerifier(opts.password, "")
	if err != nil {
		panic(err)
	}

	service := NewAuthService(store, lockout, verifier, logger)
	service.now = clock.Now

	return &testStack{
		clock:    clock,
		sessions: sessions,
		attempts: attempts,
		store:    store,
		lockout:  lockout,
		service:  service,
	}
}
