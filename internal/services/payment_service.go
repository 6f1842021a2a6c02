package services

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ---------------------------------------------------------------------
// PaymentProcessor interface
// ---------------------------------------------------------------------

// PaymentInitiation is what the processor hands back when a checkout is
// opened: an opaque reference the webhook will later carry, and the URL
// the applicant is sent to.
type PaymentInitiation struct {
	Reference   string
	RedirectURL string
}

// PaymentProcessor abstracts the external payment provider. The outcome
// of a checkout arrives asynchronously through the webhook controller;
// InitiateCheckout only opens it.
type PaymentProcessor interface {
	InitiateCheckout(ctx context.Context, session *models.RegistrationSession) (*PaymentInitiation, error)
}

// ---------------------------------------------------------------------
// Stripe implementation
// ---------------------------------------------------------------------

type stripePaymentProcessor struct {
	cfg *config.Config
}

func NewStripePaymentProcessor(cfg *config.Config) PaymentProcessor {
	stripe.Key = cfg.StripeSecretKey
	return &stripePaymentProcessor{cfg: cfg}
}

func (p *stripePaymentProcessor) InitiateCheckout(ctx context.Context, session *models.RegistrationSession) (*PaymentInitiation, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(session.ID.String()),
		CustomerEmail:     stripe.String(session.Email),
		SuccessURL:        stripe.String(p.cfg.PaymentSuccessURL),
		CancelURL:         stripe.String(p.cfg.PaymentCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.cfg.SignupFeeCurrency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.cfg.OrganizationName + " signup fee"),
					},
					UnitAmount: stripe.Int64(p.cfg.SignupFeeAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	cs, err := checkoutsession.New(params)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to create Stripe checkout session")
		return nil, fmt.Errorf("%w: stripe checkout: %v", utils.ErrExternalServiceFailure, err)
	}
	return &PaymentInitiation{Reference: cs.ID, RedirectURL: cs.URL}, nil
}
