package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RegistrationStep is the ordered registration wizard position. The value
// always names the next step awaiting submission; steps strictly before it
// are complete.
type RegistrationStep int

const (
	StepData RegistrationStep = iota
	StepEmail
	StepTwoFactor
	StepPayment
	StepReview
	StepCommitted
)

func (s RegistrationStep) String() string {
	switch s {
	case StepData:
		return "DATA"
	case StepEmail:
		return "EMAIL"
	case StepTwoFactor:
		return "TWO_FACTOR"
	case StepPayment:
		return "PAYMENT"
	case StepReview:
		return "REVIEW"
	case StepCommitted:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

// ParseRegistrationStep converts the stored string back to the enum.
func ParseRegistrationStep(s string) (RegistrationStep, error) {
	switch s {
	case "DATA":
		return StepData, nil
	case "EMAIL":
		return StepEmail, nil
	case "TWO_FACTOR":
		return StepTwoFactor, nil
	case "PAYMENT":
		return StepPayment, nil
	case "REVIEW":
		return StepReview, nil
	case "COMMITTED":
		return StepCommitted, nil
	default:
		return 0, fmt.Errorf("invalid registration step: %q", s)
	}
}

// PaymentState tracks the external processor's last word on the session's
// registration charge.
type PaymentState string

const (
	PaymentNone      PaymentState = "NONE"
	PaymentPending   PaymentState = "PENDING"
	PaymentSucceeded PaymentState = "SUCCEEDED"
	PaymentFailed    PaymentState = "FAILED"
)

// RegistrationSession accumulates the field values of completed steps until
// the terminal step promotes them into a User. RowVersion serializes step
// transitions per session (compare-and-set on every write).
type RegistrationSession struct {
	ID   uuid.UUID        `json:"id"`
	Step RegistrationStep `json:"step"`

	// DATA step
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Address      string `json:"address"`
	Country      string `json:"country"`

	// EMAIL step
	EmailCode          string     `json:"-"`
	EmailCodeExpiresAt *time.Time `json:"-"`
	EmailVerifiedAt    *time.Time `json:"email_verified_at,omitempty"`

	// TWO_FACTOR step
	TOTPSecret    string `json:"-"`
	TOTPConfirmed bool   `json:"totp_confirmed"`

	// PAYMENT step
	PaymentState     PaymentState `json:"payment_state"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	PaymentTxID      string       `json:"-"`

	RowVersion int64     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *RegistrationSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
