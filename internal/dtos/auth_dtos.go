package dtos

// ----------------------
// Requests
// ----------------------

// LoginRequest is the browser-side login submission. ExchangeID ties the
// login to a pending desktop handoff; it is optional so the same endpoint
// serves plain browser logins.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	TOTPCode   string `json:"totp_code,omitempty" validate:"omitempty,len=6,numeric"`
	ExchangeID string `json:"exchange_id,omitempty" validate:"omitempty,min=16,max=128"`
}

// ChangePasswordRequest rotates an authenticated account's password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=10,max=128"`
}

// ----------------------
// Responses
// ----------------------

type LoginResponse struct {
	User UserResponse `json:"user"`
}

// UserResponse is the public projection of an account.
type UserResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Address         string `json:"address,omitempty"`
	Country         string `json:"country,omitempty"`
	PaymentVerified bool   `json:"payment_verified"`
	TwoFactorSet    bool   `json:"two_factor_set"`
	CreatedAt       string `json:"created_at"`
}
