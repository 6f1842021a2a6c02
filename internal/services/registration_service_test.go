package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// ---------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------

type fakeEmailService struct {
	lastTo   string
	lastCode string
	sent     int
}

func (f *fakeEmailService) SendVerificationCode(toEmail, code string) error {
	f.lastTo = toEmail
	f.lastCode = code
	f.sent++
	return nil
}

type fakePaymentProcessor struct {
	initiated int
}

func (f *fakePaymentProcessor) InitiateCheckout(_ context.Context, sess *models.RegistrationSession) (*PaymentInitiation, error) {
	f.initiated++
	// A fresh reference per checkout, like Stripe's per-session ids.
	return &PaymentInitiation{
		Reference:   fmt.Sprintf("cs_test_%s_%d", sess.ID, f.initiated),
		RedirectURL: "https://checkout.example.com/pay",
	}, nil
}

// conflictOnceRegistrationRepo reports one spurious version conflict on
// the next write after Arm, modelling a concurrent writer winning the
// race, then delegates normally.
type conflictOnceRegistrationRepo struct {
	repositories.RegistrationRepository
	armed bool
}

func (r *conflictOnceRegistrationRepo) Arm() { r.armed = true }

func (r *conflictOnceRegistrationRepo) UpdateIfVersion(ctx context.Context, s *models.RegistrationSession, expected int64) (bool, error) {
	if r.armed {
		r.armed = false
		return false, nil
	}
	return r.RegistrationRepository.UpdateIfVersion(ctx, s, expected)
}

type noopRateLimiter struct{}

func (noopRateLimiter) CheckEmailRateLimits(context.Context, string, string) error { return nil }
func (noopRateLimiter) CheckLoginRateLimits(context.Context, string) error         { return nil }
func (noopRateLimiter) CheckChallengeRateLimits(context.Context, string) error     { return nil }

type regFixture struct {
	svc      RegistrationService
	users    repositories.UserRepository
	sessions *conflictOnceRegistrationRepo
	emails   *fakeEmailService
	payments *fakePaymentProcessor
}

func newRegFixture(t *testing.T) *regFixture {
	t.Helper()
	cfg := &config.Config{
		OrganizationName:          "Driftlock",
		RegistrationSessionExpiry: time.Hour,
		VerificationCodeLength:    6,
		VerificationCodeExpiry:    time.Minute,
	}
	users := repositories.NewMemoryUserRepository()
	sessions := &conflictOnceRegistrationRepo{
		RegistrationRepository: repositories.NewMemoryRegistrationRepository(users),
	}
	emails := &fakeEmailService{}
	payments := &fakePaymentProcessor{}
	svc := NewRegistrationService(cfg, sessions, users, emails, payments, noopRateLimiter{})
	return &regFixture{svc: svc, users: users, sessions: sessions, emails: emails, payments: payments}
}

var testDataReq = dtos.RegistrationDataRequest{
	Email:     "new.user@example.com",
	Password:  "sturdy-pass-42",
	FirstName: "New",
	LastName:  "User",
	Address:   "1 Main St",
	Country:   "US",
}

func (f *regFixture) startSession(t *testing.T) uuid.UUID {
	t.Helper()
	sess, err := f.svc.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StepData, sess.Step)
	return sess.ID
}

func (f *regFixture) completeData(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.svc.SubmitData(context.Background(), id, testDataReq))
}

func (f *regFixture) completeEmail(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.RequestEmailCode(ctx, id, "198.51.100.7"))
	require.NoError(t, f.svc.SubmitEmailCode(ctx, id, f.emails.lastCode))
}

func (f *regFixture) completeTwoFactor(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	secret, otpauthURL, err := f.svc.GenerateTwoFactorSecret(ctx, id)
	require.NoError(t, err)
	require.Contains(t, otpauthURL, "otpauth://")
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitTwoFactorCode(ctx, id, code))
}

func (f *regFixture) completePayment(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))
}

// ---------------------------------------------------------------------
// Happy path
// ---------------------------------------------------------------------

func TestRegistrationFullFlow(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)

	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)
	f.completePayment(t, id)

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StepReview, sess.Step)
	require.Equal(t, models.PaymentSucceeded, sess.PaymentState)

	u, err := f.svc.Confirm(ctx, id)
	require.NoError(t, err)
	require.Equal(t, testDataReq.Email, u.Email)
	require.True(t, u.PaymentVerified)
	require.True(t, u.HasSecondFactor())
	require.NotNil(t, u.EmailVerifiedAt)

	// Session is destroyed by promotion.
	_, err = f.svc.Get(ctx, id)
	require.ErrorIs(t, err, utils.ErrNotFound)

	// And the account is live.
	stored, err := f.users.GetByEmail(ctx, testDataReq.Email)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, utils.CheckPasswordHash(testDataReq.Password, stored.PasswordHash))
}

// ---------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------

func TestStepsOutOfOrder(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)

	// Everything past Data is refused before Data completes.
	require.ErrorIs(t, f.svc.RequestEmailCode(ctx, id, "198.51.100.7"), utils.ErrOutOfOrder)
	require.ErrorIs(t, f.svc.SubmitEmailCode(ctx, id, "123456"), utils.ErrOutOfOrder)
	_, _, err := f.svc.GenerateTwoFactorSecret(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)
	_, err = f.svc.StartPayment(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)
	_, err = f.svc.Confirm(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)

	f.completeData(t, id)

	// Payment before Email is still out of order.
	_, err = f.svc.StartPayment(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)
}

func TestResubmitDataResetsLaterSteps(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)

	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	// Changed identity data invalidates the email and 2FA verifications.
	changed := testDataReq
	changed.Email = "changed@example.com"
	require.NoError(t, f.svc.SubmitData(ctx, id, changed))

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StepEmail, sess.Step)
	require.Nil(t, sess.EmailVerifiedAt)
	require.Empty(t, sess.TOTPSecret)
	require.False(t, sess.TOTPConfirmed)

	// 2FA is gated again until the new email is verified.
	_, _, err = f.svc.GenerateTwoFactorSecret(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)
}

func TestResubmitDataKeepsPendingStepsPending(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)

	f.completeData(t, id)
	f.completeEmail(t, id)

	changed := testDataReq
	changed.Email = "second@example.com"
	require.NoError(t, f.svc.SubmitData(ctx, id, changed))

	// Review remains unreachable until the later steps are (re)done.
	_, err := f.svc.Confirm(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)
}

// ---------------------------------------------------------------------
// Data validation
// ---------------------------------------------------------------------

func TestSubmitDataRejectsExistingEmail(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, &models.User{
		ID:    uuid.New(),
		Email: testDataReq.Email,
	}))

	id := f.startSession(t)
	err := f.svc.SubmitData(ctx, id, testDataReq)
	require.ErrorIs(t, err, utils.ErrEmailExists)
}

func TestSubmitDataRejectsWeakPassword(t *testing.T) {
	f := newRegFixture(t)
	id := f.startSession(t)

	weak := testDataReq
	weak.Password = "short1"
	require.ErrorIs(t, f.svc.SubmitData(context.Background(), id, weak), utils.ErrWeakPassword)

	noDigits := testDataReq
	noDigits.Password = "allletterspassword"
	require.ErrorIs(t, f.svc.SubmitData(context.Background(), id, noDigits), utils.ErrWeakPassword)
}

func TestSubmitEmailCodeRejectsBadCode(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)

	require.NoError(t, f.svc.RequestEmailCode(ctx, id, "198.51.100.7"))
	require.ErrorIs(t, f.svc.SubmitEmailCode(ctx, id, "999999"), utils.ErrBadCode)

	// The right code still works after a failed attempt.
	require.NoError(t, f.svc.SubmitEmailCode(ctx, id, f.emails.lastCode))
}

// ---------------------------------------------------------------------
// Payment callbacks
// ---------------------------------------------------------------------

func TestPaymentPendingParksSession(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomePending, "tx_1"))

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StepPayment, sess.Step, "pending parks the machine at Payment")
	require.Equal(t, models.PaymentPending, sess.PaymentState)

	_, err = f.svc.Confirm(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)

	// The terminal callback resumes the machine.
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))
	sess, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StepReview, sess.Step)
}

func TestDuplicateSuccessCallbackIsNoOp(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StepReview, sess.Step, "the session advances past Payment exactly once")

	// A duplicate arriving after commit hits no session and is dropped.
	_, err = f.svc.Confirm(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))
}

func TestPaymentFailureAllowsRetry(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeFailure, "tx_1"))

	_, err = f.svc.Confirm(ctx, id)
	require.ErrorIs(t, err, utils.ErrOutOfOrder)

	// A fresh checkout succeeds.
	initiation2, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, initiation.Reference, initiation2.Reference)
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation2.Reference, PaymentOutcomeSuccess, "tx_2"))

	_, err = f.svc.Confirm(ctx, id)
	require.NoError(t, err)
}

func TestLateFailureNeverReopensSettledPayment(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))

	// A straggling failure verdict under a different transaction id is
	// dropped: the settled charge stays settled.
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeFailure, "tx_2"))

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, sess.PaymentState)
	require.Equal(t, models.StepReview, sess.Step)

	_, err = f.svc.Confirm(ctx, id)
	require.NoError(t, err)
}

func TestSuccessCallbackReappliedAfterVersionConflict(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	initiation, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)

	// Losing the row-version race must not drop the verdict: the callback
	// reloads and reapplies, so the session still settles.
	f.sessions.Arm()
	require.NoError(t, f.svc.HandlePaymentNotification(ctx, initiation.Reference, PaymentOutcomeSuccess, "tx_1"))

	sess, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, sess.PaymentState)
	require.Equal(t, models.StepReview, sess.Step)
}

func TestStartPaymentWhilePendingRefused(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)
	f.completeEmail(t, id)
	f.completeTwoFactor(t, id)

	_, err := f.svc.StartPayment(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.StartPayment(ctx, id)
	require.ErrorIs(t, err, utils.ErrPaymentPending)
}

// ---------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------

func TestCancelDestroysSession(t *testing.T) {
	f := newRegFixture(t)
	ctx := context.Background()
	id := f.startSession(t)
	f.completeData(t, id)

	require.NoError(t, f.svc.Cancel(ctx, id))
	_, err := f.svc.Get(ctx, id)
	require.ErrorIs(t, err, utils.ErrNotFound)

	require.ErrorIs(t, f.svc.Cancel(ctx, id), utils.ErrNotFound)
}

func TestUnknownSession(t *testing.T) {
	f := newRegFixture(t)
	err := f.svc.SubmitData(context.Background(), uuid.New(), testDataReq)
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestFakeEmailGetsFixedCode(t *testing.T) {
	cfg := &config.Config{
		OrganizationName:          "Driftlock",
		RegistrationSessionExpiry: time.Hour,
		VerificationCodeLength:    6,
		VerificationCodeExpiry:    time.Minute,
		AcceptFakeEmails:          true,
	}
	users := repositories.NewMemoryUserRepository()
	sessions := repositories.NewMemoryRegistrationRepository(users)
	emails := &fakeEmailService{}
	svc := NewRegistrationService(cfg, sessions, users, emails, &fakePaymentProcessor{}, noopRateLimiter{})

	ctx := context.Background()
	sess, err := svc.Start(ctx)
	require.NoError(t, err)

	req := testDataReq
	req.Email = "ci-run." + utils.TestEmailSuffix
	require.NoError(t, svc.SubmitData(ctx, sess.ID, req))
	require.NoError(t, svc.RequestEmailCode(ctx, sess.ID, "198.51.100.7"))

	require.Zero(t, emails.sent, "no real email goes out for test addresses")
	require.NoError(t, svc.SubmitEmailCode(ctx, sess.ID, TestEmailCode))
}
