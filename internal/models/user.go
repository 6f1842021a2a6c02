package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that finished every registration step. Rows are
// created only by registration commit; password and TOTP updates are the
// only mutations afterwards.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Address         string     `json:"address"`
	Country         string     `json:"country"`
	TOTPSecret      string     `json:"-"`
	PaymentVerified bool       `json:"payment_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HasSecondFactor reports whether a TOTP secret is enrolled.
func (u *User) HasSecondFactor() bool {
	return u.TOTPSecret != ""
}
