package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// TestEmailCode is the fixed verification code stored for addresses
// matching utils.TestEmailRegex when AcceptFakeEmails is enabled.
const TestEmailCode = "000000"

// PaymentOutcome is what the processor reports at its callback boundary.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeFailure PaymentOutcome = "failure"
	PaymentOutcomePending PaymentOutcome = "pending"
)

// ---------------------------------------------------------------------
// RegistrationService interface
// ---------------------------------------------------------------------

// RegistrationService drives a registrant through the ordered steps
// Data, Email, TwoFactor, Payment and Review. A session's Step field
// names the step currently awaiting submission; submitting a later step
// first is refused with utils.ErrOutOfOrder, and resubmitting an earlier
// completed step overwrites it and resets everything after it so stale
// verifications can never be carried across changed identity data.
//
// All transitions go through a compare-and-set on the session's row
// version; a concurrent writer surfaces as utils.ErrSessionConflict.
type RegistrationService interface {
	Start(ctx context.Context) (*models.RegistrationSession, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*models.RegistrationSession, error)

	SubmitData(ctx context.Context, sessionID uuid.UUID, req dtos.RegistrationDataRequest) error
	RequestEmailCode(ctx context.Context, sessionID uuid.UUID, clientIP string) error
	SubmitEmailCode(ctx context.Context, sessionID uuid.UUID, code string) error
	GenerateTwoFactorSecret(ctx context.Context, sessionID uuid.UUID) (secret string, otpauthURL string, err error)
	SubmitTwoFactorCode(ctx context.Context, sessionID uuid.UUID, code string) error
	StartPayment(ctx context.Context, sessionID uuid.UUID) (*PaymentInitiation, error)

	// HandlePaymentNotification consumes the processor callback for the
	// checkout identified by reference. Duplicate deliveries of the same
	// transaction id are no-ops, as are callbacks for sessions that no
	// longer exist.
	HandlePaymentNotification(ctx context.Context, reference string, outcome PaymentOutcome, txID string) error

	// Confirm promotes a fully verified session into a User and destroys
	// the session.
	Confirm(ctx context.Context, sessionID uuid.UUID) (*models.User, error)

	Cancel(ctx context.Context, sessionID uuid.UUID) error
	CleanupExpired(ctx context.Context) error
}

type registrationService struct {
	cfg       *config.Config
	repo      repositories.RegistrationRepository
	userRepo  repositories.UserRepository
	emails    EmailService
	payments  PaymentProcessor
	rateLimit RateLimiterService
}

func NewRegistrationService(
	cfg *config.Config,
	repo repositories.RegistrationRepository,
	userRepo repositories.UserRepository,
	emails EmailService,
	payments PaymentProcessor,
	rateLimit RateLimiterService,
) RegistrationService {
	return &registrationService{
		cfg:       cfg,
		repo:      repo,
		userRepo:  userRepo,
		emails:    emails,
		payments:  payments,
		rateLimit: rateLimit,
	}
}

// ---------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------

func (s *registrationService) Start(ctx context.Context) (*models.RegistrationSession, error) {
	now := time.Now()
	sess := &models.RegistrationSession{
		ID:           uuid.New(),
		Step:         models.StepData,
		PaymentState: models.PaymentNone,
		RowVersion:   1,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.RegistrationSessionExpiry),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		utils.Logger.WithError(err).Error("Failed to create registration session")
		return nil, err
	}
	return sess, nil
}

func (s *registrationService) Get(ctx context.Context, sessionID uuid.UUID) (*models.RegistrationSession, error) {
	return s.load(ctx, sessionID)
}

// load fetches a live session, treating expired ones as absent.
func (s *registrationService) load(ctx context.Context, sessionID uuid.UUID) (*models.RegistrationSession, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to load registration session")
		return nil, err
	}
	if sess == nil {
		return nil, utils.ErrNotFound
	}
	if sess.IsExpired(time.Now()) {
		return nil, utils.ErrExpired
	}
	return sess, nil
}

func (s *registrationService) save(ctx context.Context, sess *models.RegistrationSession) error {
	ok, err := s.repo.UpdateIfVersion(ctx, sess, sess.RowVersion)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to update registration session")
		return err
	}
	if !ok {
		return utils.ErrSessionConflict
	}
	return nil
}

// ---------------------------------------------------------------------
// Data step
// ---------------------------------------------------------------------

func (s *registrationService) SubmitData(ctx context.Context, sessionID uuid.UUID, req dtos.RegistrationDataRequest) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	// Data is the first step, so the only refusal is a committed session,
	// and those are destroyed on promotion.

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !utils.ValidatePasswordPolicy(req.Password) {
		return utils.ErrWeakPassword
	}
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return utils.ErrEmailExists
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to hash registration password")
		return err
	}

	sess.Email = email
	sess.PasswordHash = hash
	sess.FirstName = req.FirstName
	sess.LastName = req.LastName
	sess.Address = req.Address
	sess.Country = req.Country
	sess.Step = models.StepEmail
	resetFromEmail(sess)

	return s.save(ctx, sess)
}

// resetFromEmail wipes every verification gathered at the Email step or
// later. Called whenever Data is (re)submitted.
func resetFromEmail(sess *models.RegistrationSession) {
	sess.EmailCode = ""
	sess.EmailCodeExpiresAt = nil
	sess.EmailVerifiedAt = nil
	resetFromTwoFactor(sess)
}

func resetFromTwoFactor(sess *models.RegistrationSession) {
	sess.TOTPSecret = ""
	sess.TOTPConfirmed = false
	resetFromPayment(sess)
}

func resetFromPayment(sess *models.RegistrationSession) {
	sess.PaymentState = models.PaymentNone
	sess.PaymentReference = ""
	sess.PaymentTxID = ""
}

// ---------------------------------------------------------------------
// Email step
// ---------------------------------------------------------------------

func (s *registrationService) RequestEmailCode(ctx context.Context, sessionID uuid.UUID, clientIP string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Step < models.StepEmail {
		return utils.ErrOutOfOrder
	}
	if err := s.rateLimit.CheckEmailRateLimits(ctx, clientIP, sess.Email); err != nil {
		return err
	}

	expiresAt := time.Now().Add(s.cfg.VerificationCodeExpiry)
	if s.cfg.AcceptFakeEmails && utils.TestEmailRegex.MatchString(sess.Email) {
		sess.EmailCode = TestEmailCode
		sess.EmailCodeExpiresAt = &expiresAt
		return s.save(ctx, sess)
	}

	code := utils.RandomNumericString(s.cfg.VerificationCodeLength)
	sess.EmailCode = code
	sess.EmailCodeExpiresAt = &expiresAt
	if err := s.save(ctx, sess); err != nil {
		return err
	}
	return s.emails.SendVerificationCode(sess.Email, code)
}

func (s *registrationService) SubmitEmailCode(ctx context.Context, sessionID uuid.UUID, code string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Step < models.StepEmail {
		return utils.ErrOutOfOrder
	}
	if sess.EmailCode == "" || sess.EmailCodeExpiresAt == nil ||
		time.Now().After(*sess.EmailCodeExpiresAt) || sess.EmailCode != code {
		return utils.ErrBadCode
	}

	now := time.Now()
	sess.EmailVerifiedAt = &now
	sess.EmailCode = ""
	sess.EmailCodeExpiresAt = nil
	if sess.Step == models.StepEmail {
		sess.Step = models.StepTwoFactor
	} else {
		// Re-verification of a completed step resets everything after it.
		sess.Step = models.StepTwoFactor
		resetFromTwoFactor(sess)
	}
	return s.save(ctx, sess)
}

// ---------------------------------------------------------------------
// TwoFactor step
// ---------------------------------------------------------------------

func (s *registrationService) GenerateTwoFactorSecret(ctx context.Context, sessionID uuid.UUID) (string, string, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	if sess.Step < models.StepTwoFactor {
		return "", "", utils.ErrOutOfOrder
	}

	key, err := utils.GenerateTOTPSecret(s.cfg.OrganizationName, sess.Email)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to generate TOTP secret")
		return "", "", err
	}
	sess.TOTPSecret = key.Secret()
	sess.TOTPConfirmed = false
	if err := s.save(ctx, sess); err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func (s *registrationService) SubmitTwoFactorCode(ctx context.Context, sessionID uuid.UUID, code string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Step < models.StepTwoFactor {
		return utils.ErrOutOfOrder
	}
	if sess.TOTPSecret == "" || !utils.ValidateTOTPCode(sess.TOTPSecret, code) {
		return utils.ErrBadCode
	}

	sess.TOTPConfirmed = true
	if sess.Step == models.StepTwoFactor {
		sess.Step = models.StepPayment
	} else {
		sess.Step = models.StepPayment
		resetFromPayment(sess)
	}
	return s.save(ctx, sess)
}

// ---------------------------------------------------------------------
// Payment step
// ---------------------------------------------------------------------

func (s *registrationService) StartPayment(ctx context.Context, sessionID uuid.UUID) (*PaymentInitiation, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Step < models.StepPayment {
		return nil, utils.ErrOutOfOrder
	}
	if sess.PaymentState == models.PaymentSucceeded {
		// A settled charge is never reopened.
		return nil, utils.ErrConflict
	}
	if sess.PaymentState == models.PaymentPending {
		return nil, utils.ErrPaymentPending
	}

	initiation, err := s.payments.InitiateCheckout(ctx, sess)
	if err != nil {
		return nil, err
	}
	sess.PaymentState = models.PaymentPending
	sess.PaymentReference = initiation.Reference
	sess.PaymentTxID = ""
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return initiation, nil
}

const paymentCallbackRetries = 3

func (s *registrationService) HandlePaymentNotification(ctx context.Context, reference string, outcome PaymentOutcome, txID string) error {
	// A lost row-version race is resolved by reloading and reapplying,
	// so a terminal verdict is never dropped after the processor has
	// been acked.
	var err error
	for attempt := 0; attempt < paymentCallbackRetries; attempt++ {
		err = s.applyPaymentNotification(ctx, reference, outcome, txID)
		if err != utils.ErrSessionConflict {
			return err
		}
	}
	return err
}

func (s *registrationService) applyPaymentNotification(ctx context.Context, reference string, outcome PaymentOutcome, txID string) error {
	sess, err := s.repo.GetByPaymentReference(ctx, reference)
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to look up session for payment callback")
		return err
	}
	if sess == nil {
		// Session already committed, cancelled or expired. Duplicate
		// deliveries land here and are deliberately dropped.
		utils.Logger.Infof("Ignoring payment callback for unknown reference %s", reference)
		return nil
	}
	if txID != "" && sess.PaymentTxID == txID && sess.PaymentState != models.PaymentPending {
		// Same transaction already settled this session.
		return nil
	}
	if sess.PaymentState == models.PaymentSucceeded {
		// A settled charge is never reopened. Late failure or pending
		// verdicts under a different transaction id are dropped.
		utils.Logger.Infof("Ignoring %s callback for settled reference %s", outcome, reference)
		return nil
	}

	switch outcome {
	case PaymentOutcomeSuccess:
		sess.PaymentState = models.PaymentSucceeded
		sess.PaymentTxID = txID
		if sess.Step == models.StepPayment {
			sess.Step = models.StepReview
		}
	case PaymentOutcomeFailure:
		sess.PaymentState = models.PaymentFailed
		sess.PaymentTxID = txID
	case PaymentOutcomePending:
		sess.PaymentState = models.PaymentPending
		sess.PaymentTxID = txID
	default:
		utils.Logger.Warnf("Unrecognized payment outcome %q for reference %s", outcome, reference)
		return nil
	}

	return s.save(ctx, sess)
}

// ---------------------------------------------------------------------
// Review / Commit
// ---------------------------------------------------------------------

func (s *registrationService) Confirm(ctx context.Context, sessionID uuid.UUID) (*models.User, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Step < models.StepReview {
		return nil, utils.ErrOutOfOrder
	}
	if sess.PaymentState == models.PaymentPending {
		return nil, utils.ErrPaymentPending
	}
	if sess.PaymentState != models.PaymentSucceeded {
		return nil, utils.ErrPaymentFailed
	}

	u := &models.User{
		ID:              uuid.New(),
		Email:           sess.Email,
		PasswordHash:    sess.PasswordHash,
		FirstName:       sess.FirstName,
		LastName:        sess.LastName,
		Address:         sess.Address,
		Country:         sess.Country,
		TOTPSecret:      sess.TOTPSecret,
		PaymentVerified: true,
		EmailVerifiedAt: sess.EmailVerifiedAt,
		CreatedAt:       time.Now(),
	}

	ok, err := s.repo.Promote(ctx, sess, u, sess.RowVersion)
	if err != nil {
		if strings.Contains(err.Error(), "users_email_key") || strings.Contains(err.Error(), "duplicate key") {
			return nil, utils.ErrEmailExists
		}
		utils.Logger.WithError(err).Error("Failed to promote registration session")
		return nil, err
	}
	if !ok {
		return nil, utils.ErrSessionConflict
	}
	return u, nil
}

func (s *registrationService) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return utils.ErrNotFound
	}
	return s.repo.Delete(ctx, sessionID)
}

func (s *registrationService) CleanupExpired(ctx context.Context) error {
	return s.repo.CleanupExpired(ctx)
}
