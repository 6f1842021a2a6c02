package services

import (
	"context"

	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ---------------------------------------------------------------------
// ExchangeService interface
// ---------------------------------------------------------------------

// ExchangeService is the desktop-facing half of the handoff: the desktop
// client presents its exchange id and PKCE verifier, and receives a
// session token for the identity the browser login bound to the
// challenge. Consumption is single-use; no token material is ever
// returned on a failed exchange.
type ExchangeService interface {
	Exchange(ctx context.Context, exchangeID, codeVerifier string) (string, *models.User, error)
}

type exchangeService struct {
	registry ChallengeRegistry
	tokens   TokenService
	userRepo repositories.UserRepository
}

func NewExchangeService(registry ChallengeRegistry, tokens TokenService, userRepo repositories.UserRepository) ExchangeService {
	return &exchangeService{registry: registry, tokens: tokens, userRepo: userRepo}
}

func (s *exchangeService) Exchange(ctx context.Context, exchangeID, codeVerifier string) (string, *models.User, error) {
	userID, err := s.registry.Consume(ctx, exchangeID, codeVerifier)
	if err != nil {
		return "", nil, err
	}

	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to load account after exchange consumption")
		return "", nil, err
	}
	if u == nil {
		// Account removed between satisfaction and consumption.
		return "", nil, utils.ErrNotFound
	}

	token, err := s.tokens.Mint(u.ID)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to mint session token")
		return "", nil, err
	}
	return token, u, nil
}
