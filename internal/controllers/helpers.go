package controllers

import (
	"time"

	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/models"
)

func toUserResponse(u *models.User) dtos.UserResponse {
	return dtos.UserResponse{
		ID:              u.ID.String(),
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Address:         u.Address,
		Country:         u.Country,
		PaymentVerified: u.PaymentVerified,
		TwoFactorSet:    u.HasSecondFactor(),
		CreatedAt:       u.CreatedAt.Format(time.RFC3339),
	}
}
