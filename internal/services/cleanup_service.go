package services

import (
	"context"
	"time"

	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// staleAttemptAge is how long a login attempt counter may sit untouched
// before the daily sweep removes it.
const staleAttemptAge = 24 * time.Hour

// CleanupService bundles the periodic sweeps: expired exchange
// challenges (tombstones included), expired registration sessions, stale
// login attempt counters and expired rate limit counters. Expiry is
// always re-checked on access, so these sweeps are hygiene, not
// correctness.
type CleanupService struct {
	registry      ChallengeRegistry
	registrations RegistrationService
	attemptsRepo  repositories.LoginAttemptsRepository
	rateLimitRepo repositories.RateLimitRepository
}

func NewCleanupService(
	registry ChallengeRegistry,
	registrations RegistrationService,
	attemptsRepo repositories.LoginAttemptsRepository,
	rateLimitRepo repositories.RateLimitRepository,
) *CleanupService {
	return &CleanupService{
		registry:      registry,
		registrations: registrations,
		attemptsRepo:  attemptsRepo,
		rateLimitRepo: rateLimitRepo,
	}
}

// CleanupChallenges runs frequently; challenge TTLs are minutes.
func (s *CleanupService) CleanupChallenges(ctx context.Context) error {
	return s.registry.CleanupExpired(ctx)
}

// CleanupDaily removes everything else that ages out slowly.
func (s *CleanupService) CleanupDaily(ctx context.Context) error {
	if err := s.registrations.CleanupExpired(ctx); err != nil {
		utils.Logger.WithError(err).Error("Failed to clean up expired registration sessions")
		return err
	}
	if err := s.attemptsRepo.CleanupStale(ctx, staleAttemptAge); err != nil {
		utils.Logger.WithError(err).Error("Failed to clean up stale login attempt counters")
		return err
	}
	if err := s.rateLimitRepo.CleanupExpired(ctx); err != nil {
		utils.Logger.WithError(err).Error("Failed to clean up expired rate limit counters")
		return err
	}
	return nil
}
