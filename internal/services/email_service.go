package services

import (
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ---------------------------------------------------------------------
// EmailService interface
// ---------------------------------------------------------------------

// EmailService delivers the verification codes used during registration.
type EmailService interface {
	SendVerificationCode(toEmail, code string) error
}

type sendgridEmailService struct {
	client *sendgrid.Client
	cfg    *config.Config
}

func NewEmailService(cfg *config.Config) EmailService {
	return &sendgridEmailService{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		cfg:    cfg,
	}
}

func (s *sendgridEmailService) SendVerificationCode(toEmail, code string) error {
	from := mail.NewEmail(s.cfg.OrganizationName, s.cfg.SendgridFromEmail)
	to := mail.NewEmail("", toEmail)
	subject := s.cfg.OrganizationName + " - Email Verification Code"
	plainTextContent := fmt.Sprintf("Your verification code is %s", code)
	htmlContent := fmt.Sprintf(
		verificationEmailHTML,
		"Verification Code",
		"Please use the following code to continue your registration. This code will expire shortly.",
		code,
		time.Now().Year(),
	)
	message := mail.NewSingleEmail(from, subject, to, plainTextContent, htmlContent)

	if s.cfg.SendgridSandboxMode {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		message.MailSettings = ms
	}

	_, sendErr := s.client.Send(message)
	if sendErr != nil {
		utils.Logger.WithError(sendErr).Errorf("Failed to send verification email to %s via SendGrid", toEmail)
		return fmt.Errorf("%w: failed to send email via sendgrid: %v", utils.ErrExternalServiceFailure, sendErr)
	}
	return nil
}
