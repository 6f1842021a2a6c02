package services

import (
	"context"
	"fmt"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// RateLimiterService provides a high-level interface for checking various rate limits.
type RateLimiterService interface {
	CheckEmailRateLimits(ctx context.Context, ip, emailAddress string) error
	CheckLoginRateLimits(ctx context.Context, ip string) error
	CheckChallengeRateLimits(ctx context.Context, ip string) error
}

type rateLimiterService struct {
	repo repositories.RateLimitRepository
	cfg  *config.Config
}

func NewRateLimiterService(repo repositories.RateLimitRepository, cfg *config.Config) RateLimiterService {
	return &rateLimiterService{repo: repo, cfg: cfg}
}

// CheckEmailRateLimits checks global, per-IP, and per-email limits for email requests.
func (s *rateLimiterService) CheckEmailRateLimits(ctx context.Context, ip, emailAddress string) error {
	// 1. Global limit
	globalKey := "email:global"
	allowed, err := s.repo.IncrementAndCheck(ctx, globalKey, s.cfg.GlobalEmailLimitPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Global email rate limit exceeded (key: %s)", globalKey)
		return utils.ErrRateLimitExceeded
	}

	// 2. Per-IP limit
	ipKey := fmt.Sprintf("email:ip:%s", ip)
	allowed, err = s.repo.IncrementAndCheck(ctx, ipKey, s.cfg.EmailLimitPerIPPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-IP email rate limit exceeded (key: %s)", ipKey)
		return utils.ErrRateLimitExceeded
	}

	// 3. Per-destination limit
	emailKey := fmt.Sprintf("email:address:%s", emailAddress)
	allowed, err = s.repo.IncrementAndCheck(ctx, emailKey, s.cfg.EmailLimitPerEmailPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-email rate limit exceeded (key: %s)", emailKey)
		return utils.ErrRateLimitExceeded
	}

	return nil
}

// CheckLoginRateLimits checks the per-IP limit on login submissions. Account
// lockout is handled separately by the login attempt counter.
func (s *rateLimiterService) CheckLoginRateLimits(ctx context.Context, ip string) error {
	ipKey := fmt.Sprintf("login:ip:%s", ip)
	allowed, err := s.repo.IncrementAndCheck(ctx, ipKey, s.cfg.LoginLimitPerIPPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-IP login rate limit exceeded (key: %s)", ipKey)
		return utils.ErrRateLimitExceeded
	}
	return nil
}

// CheckChallengeRateLimits checks the per-IP limit on exchange challenge
// registrations so a desktop client cannot flood the registry.
func (s *rateLimiterService) CheckChallengeRateLimits(ctx context.Context, ip string) error {
	ipKey := fmt.Sprintf("challenge:ip:%s", ip)
	allowed, err := s.repo.IncrementAndCheck(ctx, ipKey, s.cfg.ChallengeLimitPerIPPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-IP challenge rate limit exceeded (key: %s)", ipKey)
		return utils.ErrRateLimitExceeded
	}
	return nil
}
