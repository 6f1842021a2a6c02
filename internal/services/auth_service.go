package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ---------------------------------------------------------------------
// AuthService interface
// ---------------------------------------------------------------------

// AuthService authenticates browser logins against stored accounts and,
// on success, binds the identity to the pending desktop exchange.
type AuthService interface {
	// Login verifies the credentials and, when exchangeID is non-empty,
	// marks the pending desktop challenge satisfied by the account.
	// Credential and second-factor failures both surface as
	// utils.ErrBadCredentials or utils.ErrBadSecondFactor; callers must
	// collapse them into a single external error so a response never
	// reveals whether an account exists.
	Login(ctx context.Context, email, password, totpCode, exchangeID, clientIP string) (*models.User, error)

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	// ChangePassword re-verifies the current password before storing the
	// new hash.
	ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error
}

type authService struct {
	cfg          *config.Config
	userRepo     repositories.UserRepository
	attemptsRepo repositories.LoginAttemptsRepository
	rateLimiter  RateLimiterService
	registry     ChallengeRegistry
}

func NewAuthService(
	cfg *config.Config,
	userRepo repositories.UserRepository,
	attemptsRepo repositories.LoginAttemptsRepository,
	rateLimiter RateLimiterService,
	registry ChallengeRegistry,
) AuthService {
	return &authService{
		cfg:          cfg,
		userRepo:     userRepo,
		attemptsRepo: attemptsRepo,
		rateLimiter:  rateLimiter,
		registry:     registry,
	}
}

// ---------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------

func (s *authService) Login(ctx context.Context, email, password, totpCode, exchangeID, clientIP string) (*models.User, error) {
	if err := s.rateLimiter.CheckLoginRateLimits(ctx, clientIP); err != nil {
		return nil, err
	}

	// Attempts are keyed by the submitted identity, not the account id, so
	// unknown emails accumulate and lock exactly like real ones.
	identity := strings.ToLower(strings.TrimSpace(email))

	locked, lockedUntil, err := s.attemptsRepo.IsLocked(ctx, identity)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to check login lockout state")
		return nil, err
	}
	if locked {
		utils.Logger.Warnf("Login attempt against locked identity, locked until %s", lockedUntil.Format(time.RFC3339))
		return nil, utils.ErrAccountLocked
	}

	u, err := s.userRepo.GetByEmail(ctx, identity)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to load account for login")
		return nil, err
	}
	if u == nil {
		s.recordFailure(ctx, identity)
		return nil, utils.ErrBadCredentials
	}

	if !utils.CheckPasswordHash(password, u.PasswordHash) {
		s.recordFailure(ctx, identity)
		return nil, utils.ErrBadCredentials
	}

	if u.HasSecondFactor() {
		if totpCode == "" || !utils.ValidateTOTPCode(u.TOTPSecret, totpCode) {
			s.recordFailure(ctx, identity)
			return nil, utils.ErrBadSecondFactor
		}
	}

	if err := s.attemptsRepo.Reset(ctx, identity); err != nil {
		utils.Logger.WithError(err).Error("Failed to reset login attempts")
	}

	if exchangeID != "" {
		if err := s.registry.MarkSatisfied(ctx, exchangeID, u.ID); err != nil {
			// Credentials were fine; the desktop handoff is what failed.
			return nil, err
		}
	}

	return u, nil
}

func (s *authService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, utils.ErrNotFound
	}
	return u, nil
}

func (s *authService) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	u, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return utils.ErrNotFound
	}
	if !utils.CheckPasswordHash(currentPassword, u.PasswordHash) {
		return utils.ErrBadCredentials
	}
	if !utils.ValidatePasswordPolicy(newPassword) {
		return utils.ErrWeakPassword
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to hash new password")
		return err
	}
	return s.userRepo.UpdatePasswordHash(ctx, u.ID, hash)
}

func (s *authService) recordFailure(ctx context.Context, identity string) {
	if err := s.attemptsRepo.Increment(ctx, identity, s.cfg.LockDuration, s.cfg.AttemptWindow, s.cfg.MaxLoginAttempts); err != nil {
		utils.Logger.WithError(err).Error("Failed to increment login attempts")
	}
}
