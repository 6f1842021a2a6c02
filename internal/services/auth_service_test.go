package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/utils"
)

const (
	testUserEmail    = "alice@example.com"
	testUserPassword = "sturdy-pass-42"
	testClientIP     = "198.51.100.7"
)

type authFixture struct {
	svc      AuthService
	users    repositories.UserRepository
	registry ChallengeRegistry
	userID   uuid.UUID
	totpKey  string
}

func newAuthFixture(t *testing.T, withTOTP bool) *authFixture {
	t.Helper()
	cfg := &config.Config{
		OrganizationName: "Driftlock",
		MaxLoginAttempts: 3,
		AttemptWindow:    time.Minute,
		LockDuration:     time.Minute,
	}
	users := repositories.NewMemoryUserRepository()
	attempts := repositories.NewMemoryLoginAttemptsRepository()
	registry := NewChallengeRegistry(repositories.NewMemoryChallengeRepository(), time.Minute)
	svc := NewAuthService(cfg, users, attempts, noopRateLimiter{}, registry)

	hash, err := utils.HashPassword(testUserPassword)
	require.NoError(t, err)

	f := &authFixture{svc: svc, users: users, registry: registry, userID: uuid.New()}
	u := &models.User{
		ID:           f.userID,
		Email:        testUserEmail,
		PasswordHash: hash,
	}
	if withTOTP {
		key, err := utils.GenerateTOTPSecret("Driftlock", testUserEmail)
		require.NoError(t, err)
		u.TOTPSecret = key.Secret()
		f.totpKey = key.Secret()
	}
	require.NoError(t, users.Create(context.Background(), u))
	return f
}

func (f *authFixture) currentTOTP(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(f.totpKey, time.Now())
	require.NoError(t, err)
	return code
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t, false)

	u, err := f.svc.Login(context.Background(), testUserEmail, testUserPassword, "", "", testClientIP)
	require.NoError(t, err)
	require.Equal(t, f.userID, u.ID)
}

func TestLoginWithSecondFactor(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	// Missing and wrong codes fail.
	_, err := f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.ErrorIs(t, err, utils.ErrBadSecondFactor)
	_, err = f.svc.Login(ctx, testUserEmail, testUserPassword, "000000", "", testClientIP)
	require.ErrorIs(t, err, utils.ErrBadSecondFactor)

	u, err := f.svc.Login(ctx, testUserEmail, testUserPassword, f.currentTOTP(t), "", testClientIP)
	require.NoError(t, err)
	require.Equal(t, f.userID, u.ID)
}

func TestLoginUnknownAndWrongPassword(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	_, unknownErr := f.svc.Login(ctx, "nobody@example.com", testUserPassword, "", "", testClientIP)
	require.ErrorIs(t, unknownErr, utils.ErrBadCredentials)

	_, wrongErr := f.svc.Login(ctx, testUserEmail, "not-the-password", "", "", testClientIP)
	require.ErrorIs(t, wrongErr, utils.ErrBadCredentials)

	// Unknown account and wrong password are indistinguishable.
	require.Equal(t, unknownErr, wrongErr)
}

func TestLoginLockout(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, testUserEmail, "bad-password", "", "", testClientIP)
		require.ErrorIs(t, err, utils.ErrBadCredentials)
	}

	// Even the correct password is refused while locked.
	_, err := f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.ErrorIs(t, err, utils.ErrAccountLocked)
}

func TestLockoutAppliesToUnknownIdentity(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "ghost@example.com", "whatever-pass", "", "", testClientIP)
		require.ErrorIs(t, err, utils.ErrBadCredentials)
	}
	_, err := f.svc.Login(ctx, "ghost@example.com", "whatever-pass", "", "", testClientIP)
	require.ErrorIs(t, err, utils.ErrAccountLocked, "nonexistent accounts lock the same way real ones do")
}

func TestLoginResetsAttempts(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, testUserEmail, "bad-password", "", "", testClientIP)
		require.ErrorIs(t, err, utils.ErrBadCredentials)
	}
	_, err := f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.NoError(t, err)

	// Counter starts over after the successful login.
	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, testUserEmail, "bad-password", "", "", testClientIP)
		require.ErrorIs(t, err, utils.ErrBadCredentials)
	}
	_, err = f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.NoError(t, err)
}

func TestLoginSatisfiesExchange(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	challenge := utils.ChallengeFromVerifier(testVerifier, utils.TransformS256)
	require.NoError(t, f.registry.Register(ctx, "e1", challenge, utils.TransformS256))

	_, err := f.svc.Login(ctx, testUserEmail, testUserPassword, "", "e1", testClientIP)
	require.NoError(t, err)

	got, err := f.registry.Consume(ctx, "e1", testVerifier)
	require.NoError(t, err)
	require.Equal(t, f.userID, got)
}

func TestLoginWithUnknownExchangeID(t *testing.T) {
	f := newAuthFixture(t, false)

	_, err := f.svc.Login(context.Background(), testUserEmail, testUserPassword, "", "nope", testClientIP)
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestFailedLoginNeverSatisfiesExchange(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	challenge := utils.ChallengeFromVerifier(testVerifier, utils.TransformS256)
	require.NoError(t, f.registry.Register(ctx, "e1", challenge, utils.TransformS256))

	_, err := f.svc.Login(ctx, testUserEmail, "bad-password", "", "e1", testClientIP)
	require.ErrorIs(t, err, utils.ErrBadCredentials)

	_, err = f.registry.Consume(ctx, "e1", testVerifier)
	require.ErrorIs(t, err, utils.ErrUnsatisfied)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()
	const newPassword = "even-sturdier-pass-43"

	require.NoError(t, f.svc.ChangePassword(ctx, f.userID, testUserPassword, newPassword))

	// The old password stops working and the new one logs in.
	_, err := f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.ErrorIs(t, err, utils.ErrBadCredentials)
	_, err = f.svc.Login(ctx, testUserEmail, newPassword, "", "", testClientIP)
	require.NoError(t, err)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, f.userID, "not-the-password", "even-sturdier-pass-43")
	require.ErrorIs(t, err, utils.ErrBadCredentials)

	_, err = f.svc.Login(ctx, testUserEmail, testUserPassword, "", "", testClientIP)
	require.NoError(t, err, "a refused change leaves the password untouched")
}

func TestChangePasswordRejectsWeakPassword(t *testing.T) {
	f := newAuthFixture(t, false)

	err := f.svc.ChangePassword(context.Background(), f.userID, testUserPassword, "short")
	require.ErrorIs(t, err, utils.ErrWeakPassword)
}

func TestChangePasswordUnknownAccount(t *testing.T) {
	f := newAuthFixture(t, false)

	err := f.svc.ChangePassword(context.Background(), uuid.New(), testUserPassword, "even-sturdier-pass-43")
	require.ErrorIs(t, err, utils.ErrNotFound)
}
