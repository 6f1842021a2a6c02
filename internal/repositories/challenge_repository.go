package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/driftlock/desktop-auth/internal/models"
)

// ChallengeRepository stores single-use PKCE challenges keyed by exchange id.
// The guarded Satisfy/MarkConsumed updates are what make mark_satisfied and
// consume linearizable per exchange id: under concurrent callers at most one
// update matches its WHERE clause.
type ChallengeRepository interface {
	// Create inserts a new pending challenge. Returns false when the
	// exchange id is already present (consumed tombstones included).
	Create(ctx context.Context, c *models.PendingChallenge) (bool, error)

	// Get fetches a challenge by exchange id, consumed tombstones included.
	// Returns nil without error when no row exists.
	Get(ctx context.Context, exchangeID string) (*models.PendingChallenge, error)

	// Satisfy binds the identity to the challenge if it is still live and
	// unbound. Returns false when the guarded update matched no row.
	Satisfy(ctx context.Context, exchangeID string, userID uuid.UUID) (bool, error)

	// MarkConsumed flips the consumed flag if the challenge is still live,
	// satisfied and unconsumed. Returns false when another caller won.
	MarkConsumed(ctx context.Context, exchangeID string) (bool, error)

	// CleanupExpired removes expired entries and consumed tombstones past
	// their expiry.
	CleanupExpired(ctx context.Context) error
}

type challengeRepo struct {
	db DB
}

func NewChallengeRepository(db DB) ChallengeRepository {
	return &challengeRepo{db: db}
}

func (r *challengeRepo) Create(ctx context.Context, c *models.PendingChallenge) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        INSERT INTO pending_challenges (
            exchange_id, code_challenge, method, satisfied_by, consumed, created_at, expires_at
        ) VALUES ($1, $2, $3, NULL, FALSE, $4, $5)
        ON CONFLICT (exchange_id) DO NOTHING
    `,
		c.ExchangeID, c.CodeChallenge, c.Method, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *challengeRepo) Get(ctx context.Context, exchangeID string) (*models.PendingChallenge, error) {
	row := r.db.QueryRow(ctx, `
        SELECT exchange_id, code_challenge, method, satisfied_by, consumed, created_at, expires_at
        FROM pending_challenges
        WHERE exchange_id=$1
    `, exchangeID)

	c := &models.PendingChallenge{}
	err := row.Scan(&c.ExchangeID, &c.CodeChallenge, &c.Method, &c.SatisfiedBy, &c.Consumed, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *challengeRepo) Satisfy(ctx context.Context, exchangeID string, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE pending_challenges
        SET satisfied_by = $2
        WHERE exchange_id = $1
          AND satisfied_by IS NULL
          AND NOT consumed
          AND expires_at > NOW()
    `, exchangeID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *challengeRepo) MarkConsumed(ctx context.Context, exchangeID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE pending_challenges
        SET consumed = TRUE
        WHERE exchange_id = $1
          AND satisfied_by IS NOT NULL
          AND NOT consumed
          AND expires_at > NOW()
    `, exchangeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *challengeRepo) CleanupExpired(ctx context.Context) error {
	// Consumed tombstones are kept until their natural expiry so the same
	// exchange id cannot be re-registered while a desktop could still be
	// holding its verifier.
	_, err := r.db.Exec(ctx, `DELETE FROM pending_challenges WHERE expires_at < NOW()`)
	return err
}
