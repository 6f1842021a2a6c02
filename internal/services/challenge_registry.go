package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ChallengeRegistry tracks pending desktop exchanges: a desktop client
// registers a PKCE challenge under a fresh exchange id, a browser login
// later satisfies it with an identity, and the desktop client consumes it
// exactly once by presenting the matching verifier.
type ChallengeRegistry interface {
	// Register stores a new pending challenge under exchangeID.
	// Returns utils.ErrConflict when the id is already present, consumed
	// tombstones included.
	Register(ctx context.Context, exchangeID, codeChallenge string, method utils.TransformMethod) error

	// MarkSatisfied binds userID to the pending challenge. Returns
	// utils.ErrNotFound, utils.ErrExpired or utils.ErrAlreadySatisfied
	// when the entry cannot accept an identity.
	MarkSatisfied(ctx context.Context, exchangeID string, userID uuid.UUID) error

	// Consume verifies the code verifier against the stored challenge and
	// atomically retires the entry, returning the bound identity. A failed
	// verification leaves the entry intact. Errors: utils.ErrNotFound,
	// utils.ErrExpired, utils.ErrUnsatisfied, utils.ErrVerifierMismatch.
	Consume(ctx context.Context, exchangeID, codeVerifier string) (uuid.UUID, error)

	// CleanupExpired sweeps entries past their TTL, tombstones included.
	CleanupExpired(ctx context.Context) error
}

type challengeRegistry struct {
	repo repositories.ChallengeRepository
	ttl  time.Duration
}

func NewChallengeRegistry(repo repositories.ChallengeRepository, ttl time.Duration) ChallengeRegistry {
	return &challengeRegistry{repo: repo, ttl: ttl}
}

func (s *challengeRegistry) Register(ctx context.Context, exchangeID, codeChallenge string, method utils.TransformMethod) error {
	now := time.Now()
	created, err := s.repo.Create(ctx, &models.PendingChallenge{
		ExchangeID:    exchangeID,
		CodeChallenge: codeChallenge,
		Method:        string(method),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	})
	if err != nil {
		utils.Logger.Errorf("Failed to register exchange challenge: %v", err)
		return err
	}
	if !created {
		return utils.ErrConflict
	}
	return nil
}

func (s *challengeRegistry) MarkSatisfied(ctx context.Context, exchangeID string, userID uuid.UUID) error {
	ok, err := s.repo.Satisfy(ctx, exchangeID, userID)
	if err != nil {
		utils.Logger.Errorf("Failed to satisfy exchange challenge: %v", err)
		return err
	}
	if ok {
		return nil
	}
	// The guarded update matched nothing. Re-read to classify the refusal.
	return s.classify(ctx, exchangeID, false)
}

func (s *challengeRegistry) Consume(ctx context.Context, exchangeID, codeVerifier string) (uuid.UUID, error) {
	c, err := s.repo.Get(ctx, exchangeID)
	if err != nil {
		utils.Logger.Errorf("Failed to load exchange challenge: %v", err)
		return uuid.Nil, err
	}
	if c == nil || c.Consumed {
		// Consumed tombstones are indistinguishable from unknown ids so a
		// replayed exchange id never reveals that a consumption happened.
		return uuid.Nil, utils.ErrNotFound
	}
	if c.IsExpired(time.Now()) {
		return uuid.Nil, utils.ErrExpired
	}
	if c.SatisfiedBy == nil {
		return uuid.Nil, utils.ErrUnsatisfied
	}

	method, err := utils.ParseTransformMethod(c.Method)
	if err != nil {
		return uuid.Nil, err
	}
	if !utils.VerifierMatchesChallenge(codeVerifier, c.CodeChallenge, method) {
		// Verification failure does not retire the entry.
		return uuid.Nil, utils.ErrVerifierMismatch
	}

	ok, err := s.repo.MarkConsumed(ctx, exchangeID)
	if err != nil {
		utils.Logger.Errorf("Failed to consume exchange challenge: %v", err)
		return uuid.Nil, err
	}
	if !ok {
		// Lost the race to a concurrent consumer or a sweep.
		return uuid.Nil, s.classify(ctx, exchangeID, true)
	}
	return *c.SatisfiedBy, nil
}

func (s *challengeRegistry) CleanupExpired(ctx context.Context) error {
	return s.repo.CleanupExpired(ctx)
}

// classify re-reads the entry after a guarded update matched no row and
// maps its state to the sentinel the caller should see.
func (s *challengeRegistry) classify(ctx context.Context, exchangeID string, consuming bool) error {
	c, err := s.repo.Get(ctx, exchangeID)
	if err != nil {
		return err
	}
	switch {
	case c == nil || c.Consumed:
		return utils.ErrNotFound
	case c.IsExpired(time.Now()):
		return utils.ErrExpired
	case c.SatisfiedBy == nil:
		if consuming {
			return utils.ErrUnsatisfied
		}
		return utils.ErrNotFound
	default:
		if consuming {
			return utils.ErrNotFound
		}
		return utils.ErrAlreadySatisfied
	}
}
