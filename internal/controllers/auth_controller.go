package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/middleware"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

type AuthController struct {
	authService services.AuthService
	tokens      services.TokenService
	cfg         *config.Config
}

func NewAuthController(authService services.AuthService, tokens services.TokenService, cfg *config.Config) *AuthController {
	return &AuthController{authService: authService, tokens: tokens, cfg: cfg}
}

var authValidate = validator.New()

// Login -> POST /api/auth/v1/login
//
// Bad password and bad second factor collapse into one external error so
// a response never reveals whether the account exists or how far the
// check got.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dtos.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := authValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid login format", err)
		return
	}

	u, err := c.authService.Login(r.Context(), req.Email, req.Password, req.TOTPCode, req.ExchangeID, utils.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrBadCredentials), errors.Is(err, utils.ErrBadSecondFactor):
			utils.RespondErrorWithCode(
				w, http.StatusUnauthorized, utils.ErrCodeInvalidCredentials, "Invalid credentials", nil,
			)
		case errors.Is(err, utils.ErrAccountLocked):
			utils.RespondErrorWithCode(
				w, http.StatusLocked, utils.ErrCodeLockedAccount, "Account temporarily locked. Please try again later.", nil,
			)
		case errors.Is(err, utils.ErrRateLimitExceeded):
			utils.RespondErrorWithCode(
				w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded, "Too many requests. Please try again later.", nil,
			)
		case errors.Is(err, utils.ErrNotFound):
			utils.RespondErrorWithCode(w, http.StatusNotFound, utils.ErrCodeNotFound, "Unknown exchange id", nil)
		case errors.Is(err, utils.ErrExpired):
			utils.RespondErrorWithCode(w, http.StatusGone, utils.ErrCodeExpired, "Exchange has expired", nil)
		case errors.Is(err, utils.ErrAlreadySatisfied):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeConflict, "Exchange already completed by another login", nil)
		default:
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Login failed", err)
		}
		return
	}

	token, err := c.tokens.Mint(u.ID)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Login failed", err)
		return
	}
	utils.SetSessionCookie(w, token, c.cfg.SessionTokenExpiry)

	utils.RespondWithJSON(w, http.StatusOK, dtos.LoginResponse{User: toUserResponse(u)})
}

// Logout -> POST /api/auth/v1/logout
//
// Session tokens are stateless, so logout only clears the browser cookie.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	utils.ClearSessionCookie(w)
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Logged out"})
}

// ChangePassword -> POST /api/auth/v1/me/password
func (c *AuthController) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.ContextKeyUserID).(string)
	if !ok || userID == "" {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Not authenticated", nil)
		return
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Not authenticated", nil)
		return
	}

	var req dtos.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := authValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid password change format", err)
		return
	}

	if err := c.authService.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, utils.ErrBadCredentials):
			utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeInvalidCredentials, "Invalid credentials", nil)
		case errors.Is(err, utils.ErrWeakPassword):
			utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeWeakPassword, "Password does not meet the policy", nil)
		case errors.Is(err, utils.ErrNotFound):
			utils.RespondErrorWithCode(w, http.StatusNotFound, utils.ErrCodeNotFound, "Account not found", nil)
		default:
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to change password", err)
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Password updated"})
}

// Me -> GET /api/auth/v1/me
func (c *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.ContextKeyUserID).(string)
	if !ok || userID == "" {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Not authenticated", nil)
		return
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Not authenticated", nil)
		return
	}

	u, err := c.authService.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			utils.RespondErrorWithCode(w, http.StatusNotFound, utils.ErrCodeNotFound, "Account not found", nil)
			return
		}
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to load account", err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toUserResponse(u))
}
