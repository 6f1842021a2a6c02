package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// DesktopController owns the two desktop-facing endpoints of the
// handoff: registering a PKCE challenge before the browser opens, and
// redeeming it afterwards.
type DesktopController struct {
	registry    services.ChallengeRegistry
	exchange    services.ExchangeService
	rateLimiter services.RateLimiterService
	cfg         *config.Config
}

func NewDesktopController(
	registry services.ChallengeRegistry,
	exchange services.ExchangeService,
	rateLimiter services.RateLimiterService,
	cfg *config.Config,
) *DesktopController {
	return &DesktopController{
		registry:    registry,
		exchange:    exchange,
		rateLimiter: rateLimiter,
		cfg:         cfg,
	}
}

var desktopValidate = validator.New()

// RegisterChallenge -> POST /api/auth/v1/desktop/challenge
func (c *DesktopController) RegisterChallenge(w http.ResponseWriter, r *http.Request) {
	var req dtos.RegisterChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := desktopValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid challenge format", err)
		return
	}

	if err := c.rateLimiter.CheckChallengeRateLimits(r.Context(), utils.ClientIP(r)); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded, "Too many requests. Please try again later.", nil,
		)
		return
	}

	method, err := utils.ParseTransformMethod(req.CodeChallengeMethod)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Unsupported code challenge method", err)
		return
	}

	if err := c.registry.Register(r.Context(), req.ExchangeID, req.CodeChallenge, method); err != nil {
		if errors.Is(err, utils.ErrConflict) {
			utils.RespondErrorWithCode(
				w, http.StatusConflict, utils.ErrCodeConflict, "Exchange id already registered", nil,
			)
			return
		}
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to register challenge", err)
		return
	}

	loginURL := fmt.Sprintf("%s/desktop/login?exchange_id=%s", c.cfg.AppURL, url.QueryEscape(req.ExchangeID))
	utils.RespondWithJSON(w, http.StatusCreated, dtos.RegisterChallengeResponse{
		ExchangeID: req.ExchangeID,
		LoginURL:   loginURL,
		ExpiresIn:  int64(c.cfg.ChallengeTTL.Seconds()),
	})
}

// Exchange -> POST /api/auth/v1/desktop/exchange
func (c *DesktopController) Exchange(w http.ResponseWriter, r *http.Request) {
	var req dtos.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := desktopValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid exchange format", err)
		return
	}

	token, u, err := c.exchange.Exchange(r.Context(), req.ExchangeID, req.CodeVerifier)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrNotFound):
			utils.RespondErrorWithCode(w, http.StatusNotFound, utils.ErrCodeNotFound, "Unknown exchange id", nil)
		case errors.Is(err, utils.ErrExpired):
			utils.RespondErrorWithCode(w, http.StatusGone, utils.ErrCodeExpired, "Exchange has expired", nil)
		case errors.Is(err, utils.ErrUnsatisfied):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeUnsatisfied, "Login has not completed", nil)
		case errors.Is(err, utils.ErrVerifierMismatch):
			utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeVerifierMismatch, "Verifier does not match challenge", nil)
		default:
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Exchange failed", err)
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.ExchangeResponse{
		SessionToken: token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(c.cfg.SessionTokenExpiry.Seconds()),
		User:         toUserResponse(u),
	})
}
