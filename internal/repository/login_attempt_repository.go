package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Login attempt repository errors
var (
	ErrAttemptNotFound = errors.New("failed login attempt not found")
)

// LoginAttemptRepository defines the interface for per-IP failed login counters
type LoginAttemptRepository interface {
	Get(ctx context.Context, clientIP string) (*FailedLoginAttempt, error)
	Increment(ctx context.Context, clientIP string, now int64, maxAttempts int, lockUntil int64) (*FailedLoginAttempt, error)
	Delete(ctx context.Context, clientIP string) error
	DeleteStale(ctx context.Context, cutoff int64) (int64, error)
	UnlockExpired(ctx context.Context, now int64) (int64, error)
	CountLocked(ctx context.Context, now int64) (int, error)
}

// loginAttemptRepository implements LoginAttemptRepository using PostgreSQL
type loginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository instance
func NewLoginAttemptRepository(pool *pgxpool.Pool) LoginAttemptRepository {
	return &loginAttemptRepository{pool: pool}
}

// Get retrieves the failed attempt counter for an IP
func (r *loginAttemptRepository) Get(ctx context.Context, clientIP string) (*FailedLoginAttempt, error) {
	query := `
		SELECT client_ip, attempt_count, last_attempt, locked_until
		FROM failed_login_attempts
		WHERE client_ip = $1
	`

	attempt := &FailedLoginAttempt{}
	err := r.pool.QueryRow(ctx, query, clientIP).Scan(
		&attempt.ClientIP,
		&attempt.AttemptCount,
		&attempt.LastAttempt,
		&attempt.LockedUntil,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	return attempt, nil
}

// Increment records one failed attempt in a single upsert. The first failure
// creates the row with a count of 1. Once the count reaches maxAttempts the
// row is locked until lockUntil; an existing lock is never extended.
func (r *loginAttemptRepository) Increment(ctx context.Context, clientIP string, now int64, maxAttempts int, lockUntil int64) (*FailedLoginAttempt, error) {
	query := `
		INSERT INTO failed_login_attempts (client_ip, attempt_count, last_attempt, locked_until)
		VALUES ($1, 1, $2, CASE WHEN 1 >= $3::int THEN $4::bigint ELSE NULL END)
		ON CONFLICT (client_ip) DO UPDATE SET
			attempt_count = failed_login_attempts.attempt_count + 1,
			last_attempt = EXCLUDED.last_attempt,
			locked_until = CASE
				WHEN failed_login_attempts.locked_until IS NULL
					AND failed_login_attempts.attempt_count + 1 >= $3::int THEN $4::bigint
				ELSE failed_login_attempts.locked_until
			END
		RETURNING client_ip, attempt_count, last_attempt, locked_until
	`

	attempt := &FailedLoginAttempt{}
	err := r.pool.QueryRow(ctx, query, clientIP, now, maxAttempts, lockUntil).Scan(
		&attempt.ClientIP,
		&attempt.AttemptCount,
		&attempt.LastAttempt,
		&attempt.LockedUntil,
	)
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// Delete removes the counter for an IP
func (r *loginAttemptRepository) Delete(ctx context.Context, clientIP string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE client_ip = $1`, clientIP)
	return err
}

// DeleteStale removes unlocked counters whose last attempt is older than cutoff
func (r *loginAttemptRepository) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	query := `DELETE FROM failed_login_attempts WHERE last_attempt < $1 AND locked_until IS NULL`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// UnlockExpired clears locks that have run out, resetting their counters in place
func (r *loginAttemptRepository) UnlockExpired(ctx context.Context, now int64) (int64, error) {
	query := `
		UPDATE failed_login_attempts
		SET locked_until = NULL, attempt_count = 0
		WHERE locked_until IS NOT NULL AND locked_until < $1
	`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// CountLocked returns the number of IPs currently locked out
func (r *loginAttemptRepository) CountLocked(ctx context.Context, now int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM failed_login_attempts WHERE locked_until > $1`, now,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
