package dtos

// ----------------------
// Requests
// ----------------------

type RegistrationDataRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=10,max=128"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
	Address   string `json:"address,omitempty" validate:"omitempty,max=255"`
	Country   string `json:"country,omitempty" validate:"omitempty,len=2,alpha"`
}

type SubmitEmailCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type SubmitTwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ----------------------
// Responses
// ----------------------

type StartRegistrationResponse struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
	ExpiresAt string `json:"expires_at"`
}

// RegistrationStatusResponse reports where the session stands. It doubles
// as the payload for the review recap before confirmation.
type RegistrationStatusResponse struct {
	SessionID     string `json:"session_id"`
	Step          string `json:"step"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Address       string `json:"address,omitempty"`
	Country       string `json:"country,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	TwoFactorSet  bool   `json:"two_factor_set"`
	PaymentState  string `json:"payment_state"`
	ExpiresAt     string `json:"expires_at"`
}

type TwoFactorSecretResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

type StartPaymentResponse struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
}

type ConfirmRegistrationResponse struct {
	User UserResponse `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
