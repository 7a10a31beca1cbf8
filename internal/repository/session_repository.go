package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for admin session data access
type SessionRepository interface {
	Create(ctx context.Context, session *AdminSession) error
	GetByID(ctx context.Context, sessionID string) (*AdminSession, error)
	Touch(ctx context.Context, sessionID string, lastActivity int64) error
	Delete(ctx context.Context, sessionID string) error
	DeleteInactiveBefore(ctx context.Context, cutoff int64) (int64, error)
	CountActive(ctx context.Context) (int, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

// Create inserts a new session into the database
func (r *sessionRepository) Create(ctx context.Context, session *AdminSession) error {
	query := `
		INSERT INTO admin_sessions (session_id, client_ip, created_at, last_activity, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		session.SessionID,
		session.ClientIP,
		session.CreatedAt,
		session.LastActivity,
		session.UserAgent,
	)
	return err
}

// GetByID retrieves a session by its opaque session ID
func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*AdminSession, error) {
	query := `
		SELECT session_id, client_ip, created_at, last_activity, user_agent
		FROM admin_sessions
		WHERE session_id = $1
	`

	session := &AdminSession{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.ClientIP,
		&session.CreatedAt,
		&session.LastActivity,
		&session.UserAgent,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// Touch renews the sliding expiry window of a session
func (r *sessionRepository) Touch(ctx context.Context, sessionID string, lastActivity int64) error {
	query := `UPDATE admin_sessions SET last_activity = $2 WHERE session_id = $1`

	result, err := r.pool.Exec(ctx, query, sessionID, lastActivity)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM admin_sessions WHERE session_id = $1`

	_, err := r.pool.Exec(ctx, query, sessionID)
	return err
}

// DeleteInactiveBefore removes all sessions whose last activity is older than cutoff
func (r *sessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff int64) (int64, error) {
	query := `DELETE FROM admin_sessions WHERE last_activity < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// CountActive returns the number of stored sessions
func (r *sessionRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM admin_sessions`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
