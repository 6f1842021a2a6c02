package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// PaymentWebhookController consumes the processor's asynchronous verdict
// on registration checkouts. Stripe retries deliveries, so every handler
// path below must be idempotent; the registration service dedupes on the
// processor transaction id.
type PaymentWebhookController struct {
	cfg        *config.Config
	regService services.RegistrationService
}

func NewPaymentWebhookController(cfg *config.Config, regService services.RegistrationService) *PaymentWebhookController {
	return &PaymentWebhookController{cfg: cfg, regService: regService}
}

// WebhookHandler -> POST /api/auth/v1/payments/webhook
func (c *PaymentWebhookController) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Missing Stripe-Signature header", nil)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Failed to read webhook body", err)
		return
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.StripeWebhookSecret)
	if err != nil {
		utils.Logger.WithError(err).Error("Stripe webhook signature verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			utils.Logger.WithError(err).Error("Could not parse stripe.CheckoutSession object")
			break
		}
		outcome := services.PaymentOutcomeSuccess
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			// checkout.session.completed with an unpaid status means the
			// charge is settling asynchronously.
			outcome = services.PaymentOutcomePending
		}
		if err := c.regService.HandlePaymentNotification(r.Context(), cs.ID, outcome, txID(&cs)); err != nil {
			utils.Logger.WithError(err).Errorf("Failed to apply %s callback", event.Type)
			// Non-2xx makes Stripe redeliver the event.
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to apply payment update", nil, err)
			return
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			utils.Logger.WithError(err).Error("Could not parse stripe.CheckoutSession object")
			break
		}
		if err := c.regService.HandlePaymentNotification(r.Context(), cs.ID, services.PaymentOutcomeSuccess, txID(&cs)); err != nil {
			utils.Logger.WithError(err).Errorf("Failed to apply %s callback", event.Type)
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to apply payment update", nil, err)
			return
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			utils.Logger.WithError(err).Error("Could not parse stripe.CheckoutSession object")
			break
		}
		if err := c.regService.HandlePaymentNotification(r.Context(), cs.ID, services.PaymentOutcomeFailure, txID(&cs)); err != nil {
			utils.Logger.WithError(err).Errorf("Failed to apply %s callback", event.Type)
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to apply payment update", nil, err)
			return
		}
	case stripe.EventTypeCheckoutSessionExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			utils.Logger.WithError(err).Error("Could not parse stripe.CheckoutSession object")
			break
		}
		if err := c.regService.HandlePaymentNotification(r.Context(), cs.ID, services.PaymentOutcomeFailure, txID(&cs)); err != nil {
			utils.Logger.WithError(err).Errorf("Failed to apply %s callback", event.Type)
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to apply payment update", nil, err)
			return
		}
	default:
		utils.Logger.Infof("Unhandled Stripe event type received: %s", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

// txID picks the processor transaction id the dedup key is built from.
func txID(cs *stripe.CheckoutSession) string {
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		return cs.PaymentIntent.ID
	}
	return cs.ID
}
