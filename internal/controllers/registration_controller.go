package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// RegistrationController exposes the step-by-step registration wizard.
// Every step handler resolves the session from the path, so a registrant
// can only ever drive their own session.
type RegistrationController struct {
	regService services.RegistrationService
}

func NewRegistrationController(regService services.RegistrationService) *RegistrationController {
	return &RegistrationController{regService: regService}
}

var regValidate = validator.New()

func sessionIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["sessionID"]
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid session id", err)
		return uuid.Nil, false
	}
	return id, true
}

// respondStepError maps the shared failure modes of the step handlers.
func respondStepError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		utils.RespondErrorWithCode(w, http.StatusNotFound, utils.ErrCodeNotFound, "Unknown registration session", nil)
	case errors.Is(err, utils.ErrExpired):
		utils.RespondErrorWithCode(w, http.StatusGone, utils.ErrCodeExpired, "Registration session has expired", nil)
	case errors.Is(err, utils.ErrOutOfOrder):
		utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeOutOfOrder, "An earlier registration step is incomplete", nil)
	case errors.Is(err, utils.ErrSessionConflict):
		utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeConflict, "Concurrent update, please retry", nil)
	case errors.Is(err, utils.ErrRateLimitExceeded):
		utils.RespondErrorWithCode(w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded, "Too many requests. Please try again later.", nil)
	case errors.Is(err, utils.ErrExternalServiceFailure):
		utils.RespondErrorWithCode(w, http.StatusFailedDependency, utils.ErrCodeExternalServiceFailure, "An external service is unavailable. Please try again.", err)
	default:
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Registration step failed", err)
	}
}

// Start -> POST /api/auth/v1/register
func (c *RegistrationController) Start(w http.ResponseWriter, r *http.Request) {
	sess, err := c.regService.Start(r.Context())
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to start registration", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, dtos.StartRegistrationResponse{
		SessionID: sess.ID.String(),
		Step:      sess.Step.String(),
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

// Status -> GET /api/auth/v1/register/{sessionID}
func (c *RegistrationController) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	sess, err := c.regService.Get(r.Context(), id)
	if err != nil {
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, toStatusResponse(sess))
}

// SubmitData -> POST /api/auth/v1/register/{sessionID}/data
func (c *RegistrationController) SubmitData(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	var req dtos.RegistrationDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := regValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid registration data", err)
		return
	}

	if err := c.regService.SubmitData(r.Context(), id, req); err != nil {
		switch {
		case errors.Is(err, utils.ErrEmailExists):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeEmailExists, "An account with this email already exists", nil)
		case errors.Is(err, utils.ErrWeakPassword):
			utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeWeakPassword, "Password does not meet the policy", nil)
		default:
			respondStepError(w, err)
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Identity data accepted"})
}

// RequestEmailCode -> POST /api/auth/v1/register/{sessionID}/email/request
func (c *RegistrationController) RequestEmailCode(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	if err := c.regService.RequestEmailCode(r.Context(), id, utils.ClientIP(r)); err != nil {
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Verification code sent"})
}

// SubmitEmailCode -> POST /api/auth/v1/register/{sessionID}/email
func (c *RegistrationController) SubmitEmailCode(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	var req dtos.SubmitEmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := regValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid code format", err)
		return
	}

	if err := c.regService.SubmitEmailCode(r.Context(), id, req.Code); err != nil {
		if errors.Is(err, utils.ErrBadCode) {
			utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeBadCode, "Invalid or expired verification code", nil)
			return
		}
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Email verified"})
}

// GenerateTwoFactorSecret -> POST /api/auth/v1/register/{sessionID}/2fa/secret
func (c *RegistrationController) GenerateTwoFactorSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	secret, otpauthURL, err := c.regService.GenerateTwoFactorSecret(r.Context(), id)
	if err != nil {
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.TwoFactorSecretResponse{
		Secret:     secret,
		OtpauthURL: otpauthURL,
	})
}

// SubmitTwoFactorCode -> POST /api/auth/v1/register/{sessionID}/2fa
func (c *RegistrationController) SubmitTwoFactorCode(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	var req dtos.SubmitTwoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", err)
		return
	}
	if err := regValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid code format", err)
		return
	}

	if err := c.regService.SubmitTwoFactorCode(r.Context(), id, req.Code); err != nil {
		if errors.Is(err, utils.ErrBadCode) {
			utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeBadCode, "Invalid authenticator code", nil)
			return
		}
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Second factor enrolled"})
}

// StartPayment -> POST /api/auth/v1/register/{sessionID}/payment
func (c *RegistrationController) StartPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	initiation, err := c.regService.StartPayment(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrPaymentPending):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodePaymentPending, "A payment is already in progress", nil)
		case errors.Is(err, utils.ErrConflict):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeConflict, "Payment already completed", nil)
		default:
			respondStepError(w, err)
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.StartPaymentResponse{
		Reference:   initiation.Reference,
		CheckoutURL: initiation.RedirectURL,
	})
}

// Confirm -> POST /api/auth/v1/register/{sessionID}/confirm
func (c *RegistrationController) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	u, err := c.regService.Confirm(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrPaymentPending):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodePaymentPending, "Payment is still pending", nil)
		case errors.Is(err, utils.ErrPaymentFailed):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodePaymentFailed, "Payment has not completed successfully", nil)
		case errors.Is(err, utils.ErrEmailExists):
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeEmailExists, "An account with this email already exists", nil)
		default:
			respondStepError(w, err)
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, dtos.ConfirmRegistrationResponse{User: toUserResponse(u)})
}

// Cancel -> DELETE /api/auth/v1/register/{sessionID}
func (c *RegistrationController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}
	if err := c.regService.Cancel(r.Context(), id); err != nil {
		respondStepError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Registration cancelled"})
}

func toStatusResponse(sess *models.RegistrationSession) dtos.RegistrationStatusResponse {
	return dtos.RegistrationStatusResponse{
		SessionID:     sess.ID.String(),
		Step:          sess.Step.String(),
		Email:         sess.Email,
		FirstName:     sess.FirstName,
		LastName:      sess.LastName,
		Address:       sess.Address,
		Country:       sess.Country,
		EmailVerified: sess.EmailVerifiedAt != nil,
		TwoFactorSet:  sess.TOTPConfirmed,
		PaymentState:  string(sess.PaymentState),
		ExpiresAt:     sess.ExpiresAt.Format(time.RFC3339),
	}
}
