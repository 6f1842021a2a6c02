package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
)

// LoginAttemptsRepository tracks failed logins per identity and escalates
// to a lockout window. Keyed by the presented identity string rather than a
// user id so attempts against unknown accounts are counted the same way
// (nothing observable distinguishes the two).
type LoginAttemptsRepository interface {
	Increment(ctx context.Context, identity string, lockDuration, window time.Duration, maxAttempts int) error
	Reset(ctx context.Context, identity string) error
	IsLocked(ctx context.Context, identity string) (bool, time.Time, error)
	CleanupStale(ctx context.Context, olderThan time.Duration) error
}

type loginAttemptsRepo struct {
	db DB
}

func NewLoginAttemptsRepository(db DB) LoginAttemptsRepository {
	return &loginAttemptsRepo{db: db}
}

func (r *loginAttemptsRepo) Increment(
	ctx context.Context,
	identity string,
	lockDuration, window time.Duration,
	maxAttempts int,
) error {
	query := `
        INSERT INTO login_attempts (identity, attempt_count, locked_until, updated_at, created_at)
        VALUES ($1, 1, NULL, NOW(), NOW())
        ON CONFLICT (identity) DO UPDATE
        SET attempt_count = CASE
            WHEN (login_attempts.locked_until IS NOT NULL AND login_attempts.locked_until > NOW())
                THEN login_attempts.attempt_count
            WHEN (NOW() - login_attempts.updated_at) > $3
                THEN 1
            ELSE login_attempts.attempt_count + 1
        END,
        locked_until = CASE
            WHEN (login_attempts.locked_until IS NOT NULL AND login_attempts.locked_until > NOW())
                THEN login_attempts.locked_until
            WHEN ((NOW() - login_attempts.updated_at) <= $3
                  AND (login_attempts.attempt_count + 1) >= $4)
                THEN NOW() + $2
            ELSE NULL
        END,
        updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query, identity, lockDuration, window, maxAttempts)
	return err
}

func (r *loginAttemptsRepo) Reset(ctx context.Context, identity string) error {
	query := `
        UPDATE login_attempts
        SET attempt_count = 0,
            locked_until = NULL,
            updated_at = NOW()
        WHERE identity = $1
    `
	_, err := r.db.Exec(ctx, query, identity)
	return err
}

func (r *loginAttemptsRepo) IsLocked(ctx context.Context, identity string) (bool, time.Time, error) {
	query := `
        SELECT locked_until
        FROM login_attempts
        WHERE identity = $1
    `
	row := r.db.QueryRow(ctx, query, identity)
	var lockedUntil *time.Time
	if err := row.Scan(&lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if lockedUntil != nil && lockedUntil.After(time.Now()) {
		return true, *lockedUntil, nil
	}
	return false, time.Time{}, nil
}

func (r *loginAttemptsRepo) CleanupStale(ctx context.Context, olderThan time.Duration) error {
	query := `
        DELETE FROM login_attempts
        WHERE updated_at < NOW() - $1::interval
          AND (locked_until IS NULL OR locked_until < NOW())
    `
	_, err := r.db.Exec(ctx, query, olderThan)
	return err
}
