package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/driftlock/desktop-auth/internal/models"
)

// RegistrationRepository owns registration sessions. Every write besides
// Create is a compare-and-set on row_version, which is what serializes step
// transitions per session: of two concurrent submissions one loses the CAS.
type RegistrationRepository interface {
	Create(ctx context.Context, s *models.RegistrationSession) error

	// GetByID returns nil without error when no session exists.
	GetByID(ctx context.Context, id uuid.UUID) (*models.RegistrationSession, error)

	// GetByPaymentReference locates the session parked on a processor
	// reference. Returns nil without error when none matches.
	GetByPaymentReference(ctx context.Context, ref string) (*models.RegistrationSession, error)

	// UpdateIfVersion overwrites the session iff row_version still equals
	// expected, bumping it by one. Returns false on version conflict.
	UpdateIfVersion(ctx context.Context, s *models.RegistrationSession, expected int64) (bool, error)

	// Promote atomically inserts the promoted User and deletes the session,
	// guarded by the session's row_version. Returns false on conflict.
	Promote(ctx context.Context, s *models.RegistrationSession, u *models.User, expected int64) (bool, error)

	Delete(ctx context.Context, id uuid.UUID) error
	CleanupExpired(ctx context.Context) error
}

type registrationRepo struct {
	db DB
}

func NewRegistrationRepository(db DB) RegistrationRepository {
	return &registrationRepo{db: db}
}

const baseSelectRegistration = `
    SELECT id, step, email, password_hash, first_name, last_name, address, country,
           email_code, email_code_expires_at, email_verified_at,
           totp_secret, totp_confirmed,
           payment_state, payment_reference, payment_tx_id,
           row_version, created_at, expires_at
    FROM registration_sessions
`

func (r *registrationRepo) Create(ctx context.Context, s *models.RegistrationSession) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO registration_sessions (
            id, step, email, password_hash, first_name, last_name, address, country,
            email_code, email_code_expires_at, email_verified_at,
            totp_secret, totp_confirmed,
            payment_state, payment_reference, payment_tx_id,
            row_version, created_at, expires_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8,
            $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
        )
    `,
		s.ID, s.Step.String(), s.Email, s.PasswordHash, s.FirstName, s.LastName, s.Address, s.Country,
		s.EmailCode, s.EmailCodeExpiresAt, s.EmailVerifiedAt,
		s.TOTPSecret, s.TOTPConfirmed,
		s.PaymentState, s.PaymentReference, s.PaymentTxID,
		s.RowVersion, s.CreatedAt, s.ExpiresAt,
	)
	return err
}

func (r *registrationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RegistrationSession, error) {
	row := r.db.QueryRow(ctx, baseSelectRegistration+" WHERE id=$1", id)
	return scanRegistration(row)
}

func (r *registrationRepo) GetByPaymentReference(ctx context.Context, ref string) (*models.RegistrationSession, error) {
	row := r.db.QueryRow(ctx, baseSelectRegistration+" WHERE payment_reference=$1", ref)
	return scanRegistration(row)
}

func (r *registrationRepo) UpdateIfVersion(ctx context.Context, s *models.RegistrationSession, expected int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE registration_sessions
        SET step=$2, email=$3, password_hash=$4, first_name=$5, last_name=$6,
            address=$7, country=$8,
            email_code=$9, email_code_expires_at=$10, email_verified_at=$11,
            totp_secret=$12, totp_confirmed=$13,
            payment_state=$14, payment_reference=$15, payment_tx_id=$16,
            row_version=row_version+1
        WHERE id=$1 AND row_version=$17
    `,
		s.ID, s.Step.String(), s.Email, s.PasswordHash, s.FirstName, s.LastName,
		s.Address, s.Country,
		s.EmailCode, s.EmailCodeExpiresAt, s.EmailVerifiedAt,
		s.TOTPSecret, s.TOTPConfirmed,
		s.PaymentState, s.PaymentReference, s.PaymentTxID,
		expected,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	s.RowVersion = expected + 1
	return true, nil
}

func (r *registrationRepo) Promote(ctx context.Context, s *models.RegistrationSession, u *models.User, expected int64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
        DELETE FROM registration_sessions WHERE id=$1 AND row_version=$2
    `, s.ID, expected)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO users (
            id, email, password_hash, first_name, last_name, address, country,
            totp_secret, payment_verified, email_verified_at, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Address, u.Country,
		u.TOTPSecret, u.PaymentVerified, u.EmailVerifiedAt, u.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *registrationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM registration_sessions WHERE id=$1`, id)
	return err
}

func (r *registrationRepo) CleanupExpired(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM registration_sessions WHERE expires_at < NOW()`)
	return err
}

func scanRegistration(row pgx.Row) (*models.RegistrationSession, error) {
	s := &models.RegistrationSession{}
	var step string
	err := row.Scan(
		&s.ID, &step, &s.Email, &s.PasswordHash, &s.FirstName, &s.LastName, &s.Address, &s.Country,
		&s.EmailCode, &s.EmailCodeExpiresAt, &s.EmailVerifiedAt,
		&s.TOTPSecret, &s.TOTPConfirmed,
		&s.PaymentState, &s.PaymentReference, &s.PaymentTxID,
		&s.RowVersion, &s.CreatedAt, &s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Step, err = models.ParseRegistrationStep(step)
	if err != nil {
		return nil, err
	}
	return s, nil
}
