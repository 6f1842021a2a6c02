package utils

import (
	"errors"
	"net/http"
)

// Domain-level errors used by the service layer to provide
// fine-grained failure reasons.
var (
	// Challenge registry / desktop exchange
	ErrNotFound         = errors.New("not_found")
	ErrExpired          = errors.New("expired")
	ErrConflict         = errors.New("conflict")
	ErrAlreadySatisfied = errors.New("already_satisfied")
	ErrUnsatisfied      = errors.New("unsatisfied")
	ErrVerifierMismatch = errors.New("verifier_mismatch")

	// Login. BadCredentials and BadSecondFactor are distinguished here for
	// logging and attempt accounting only; the HTTP layer maps both to the
	// same invalid_credentials code so account existence never leaks.
	ErrBadCredentials  = errors.New("bad_credentials")
	ErrBadSecondFactor = errors.New("bad_second_factor")
	ErrAccountLocked   = errors.New("account_locked")

	// Registration state machine
	ErrOutOfOrder      = errors.New("out_of_order")
	ErrEmailExists     = errors.New("email_exists")
	ErrWeakPassword    = errors.New("weak_password")
	ErrBadCode         = errors.New("bad_code")
	ErrPaymentPending  = errors.New("payment_pending")
	ErrPaymentFailed   = errors.New("payment_failed")
	ErrSessionConflict = errors.New("session_conflict")

	// Tokens
	ErrTokenExpired = errors.New("token_expired")
	ErrTokenInvalid = errors.New("token_invalid")

	// Rate limiting
	ErrRateLimitExceeded = errors.New("rate_limit_exceeded")

	// External service failures (SendGrid, Stripe)
	ErrExternalServiceFailure = errors.New("external_service_failure")
)

// AppError for structured error handling from services to controllers.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// HandleAppError centralizes responding to AppErrors.
func HandleAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, nil, appErr.Err)
	} else {
		RespondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil, err)
	}
}
