package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

type seedAccount struct {
	email     string
	password  string
	firstName string
	lastName  string
}

var demoAccounts = []seedAccount{
	{email: "demo@driftlock.dev", password: "demo-password-1", firstName: "Demo", lastName: "Account"},
}

// SeedDemoAccounts inserts demo users for local development. Idempotent:
// accounts that already exist are left untouched. Only runs when the
// SEED_DEMO_ACCOUNTS flag is set.
func SeedDemoAccounts(ctx context.Context, userRepo repositories.UserRepository) error {
	for _, acc := range demoAccounts {
		existing, err := userRepo.GetByEmail(ctx, acc.email)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		hash, err := utils.HashPassword(acc.password)
		if err != nil {
			return err
		}
		now := time.Now()
		u := &models.User{
			ID:              uuid.New(),
			Email:           acc.email,
			PasswordHash:    hash,
			FirstName:       acc.firstName,
			LastName:        acc.lastName,
			PaymentVerified: true,
			EmailVerifiedAt: &now,
			CreatedAt:       now,
		}
		if err := userRepo.Create(ctx, u); err != nil {
			return err
		}
		utils.Logger.Infof("Seeded demo account %s", acc.email)
	}
	return nil
}
