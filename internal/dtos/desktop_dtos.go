package dtos

// ----------------------
// Requests
// ----------------------

// RegisterChallengeRequest is sent by the desktop client before it opens
// the browser: a fresh exchange id paired with the PKCE challenge the
// verifier will later have to match.
type RegisterChallengeRequest struct {
	ExchangeID          string `json:"exchange_id" validate:"required,min=16,max=128"`
	CodeChallenge       string `json:"code_challenge" validate:"required,min=16,max=256"`
	CodeChallengeMethod string `json:"code_challenge_method" validate:"required,oneof=S256 plain"`
}

// ExchangeRequest redeems a satisfied challenge with the matching verifier.
type ExchangeRequest struct {
	ExchangeID   string `json:"exchange_id" validate:"required,min=16,max=128"`
	CodeVerifier string `json:"code_verifier" validate:"required,min=16,max=256"`
}

// ----------------------
// Responses
// ----------------------

type RegisterChallengeResponse struct {
	ExchangeID string `json:"exchange_id"`
	LoginURL   string `json:"login_url"`
	ExpiresIn  int64  `json:"expires_in"`
}

type ExchangeResponse struct {
	SessionToken string       `json:"session_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}
