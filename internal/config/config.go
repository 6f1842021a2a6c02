package config

import (
	"crypto/rsa"
	"encoding/base64"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftlock/desktop-auth/internal/utils"
)

// Config holds all application configuration, including secrets and knobs.
type Config struct {
	OrganizationName string
	AppName          string
	AppPort          string
	AppURL           string
	DBUrl            string

	SessionTokenExpiry time.Duration
	RSAPrivateKey      *rsa.PrivateKey
	RSAPublicKey       *rsa.PublicKey

	ChallengeTTL              time.Duration
	RegistrationSessionExpiry time.Duration

	MaxLoginAttempts int
	AttemptWindow    time.Duration
	LockDuration     time.Duration

	SendGridAPIKey      string
	SendgridFromEmail   string
	SendgridSandboxMode bool
	AcceptFakeEmails    bool

	VerificationCodeLength int
	VerificationCodeExpiry time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	SignupFeeAmount     int64
	SignupFeeCurrency   string
	PaymentSuccessURL   string
	PaymentCancelURL    string

	EmailLimitPerIPPerHour     int
	EmailLimitPerEmailPerHour  int
	GlobalEmailLimitPerHour    int
	LoginLimitPerIPPerHour     int
	ChallengeLimitPerIPPerHour int
	RateLimitWindow            time.Duration

	CORSAllowedOrigins []string
	SeedDemoAccounts   bool
}

// Constants for time-based configuration defaults.
const (
	MaxLoginAttempts                 = 10
	AttemptWindow                    = 5 * time.Minute
	LockDuration                     = 10 * time.Minute
	VerificationCodeLength           = 6
	DefaultVerificationCodeExpiry    = 5 * time.Minute
	TestShortVerificationCodeExpiry  = 3 * time.Second
	DefaultSessionTokenExpiry        = 12 * time.Hour
	TestShortSessionTokenExpiry      = 2 * time.Second
	DefaultChallengeTTL              = 10 * time.Minute
	TestShortChallengeTTL            = 3 * time.Second
	DefaultRegistrationExpiry        = 24 * time.Hour
	DefaultEmailLimitPerIPPerHour    = 50
	DefaultEmailLimitPerEmailPerHour = 5
	DefaultGlobalEmailLimitPerHour   = 2000
	DefaultLoginLimitPerIPPerHour    = 100
	DefaultChallengeLimitPerIP       = 60
	DefaultRateLimitWindow           = 1 * time.Hour
	DefaultSignupFeeAmount           = 500 // cents
	DefaultSignupFeeCurrency         = "usd"
)

// LoadConfig reads the environment, decodes the signing keys, and returns
// a *Config. Missing required variables are fatal.
func LoadConfig() *Config {
	appName := envOr("APP_NAME", "desktop-auth")
	utils.Logger.Info("Loading config for app: ", appName)

	appPort := mustGetenv("APP_PORT")
	appURL := mustGetenv("APP_URL")
	dbURL := mustGetenv("DATABASE_URL")

	//----------------------------------------------------------------------
	// RSA signing keys (base64-wrapped PEM).
	//----------------------------------------------------------------------
	privateKeyPEM, err := base64.StdEncoding.DecodeString(mustGetenv("RSA_PRIVATE_KEY_BASE64"))
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to decode base64 private key")
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to parse RSA private key")
	}

	publicKeyPEM, err := base64.StdEncoding.DecodeString(mustGetenv("RSA_PUBLIC_KEY_BASE64"))
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to decode base64 public key")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to parse RSA public key")
	}

	//----------------------------------------------------------------------
	// TTLs, shortened when SHORT_TTLS is set so integration tests can
	// exercise expiry without sleeping for minutes.
	//----------------------------------------------------------------------
	shortTTLs := envBool("SHORT_TTLS", false)
	sessionTokenExpiry := time.Duration(DefaultSessionTokenExpiry)
	challengeTTL := time.Duration(DefaultChallengeTTL)
	verificationCodeExpiry := time.Duration(DefaultVerificationCodeExpiry)
	if shortTTLs {
		sessionTokenExpiry = TestShortSessionTokenExpiry
		challengeTTL = TestShortChallengeTTL
		verificationCodeExpiry = TestShortVerificationCodeExpiry
	}

	cfg := &Config{
		OrganizationName: utils.OrganizationName,
		AppName:          appName,
		AppPort:          appPort,
		AppURL:           appURL,
		DBUrl:            dbURL,

		SessionTokenExpiry: sessionTokenExpiry,
		RSAPrivateKey:      privateKey,
		RSAPublicKey:       publicKey,

		ChallengeTTL:              challengeTTL,
		RegistrationSessionExpiry: DefaultRegistrationExpiry,

		MaxLoginAttempts: envInt("MAX_LOGIN_ATTEMPTS", MaxLoginAttempts),
		AttemptWindow:    AttemptWindow,
		LockDuration:     LockDuration,

		SendGridAPIKey:      mustGetenv("SENDGRID_API_KEY"),
		SendgridFromEmail:   mustGetenv("SENDGRID_FROM_EMAIL"),
		SendgridSandboxMode: envBool("SENDGRID_SANDBOX_MODE", false),
		AcceptFakeEmails:    envBool("ACCEPT_FAKE_EMAILS", false),

		VerificationCodeLength: VerificationCodeLength,
		VerificationCodeExpiry: verificationCodeExpiry,

		StripeSecretKey:     mustGetenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: mustGetenv("STRIPE_WEBHOOK_SECRET"),
		SignupFeeAmount:     int64(envInt("SIGNUP_FEE_AMOUNT", DefaultSignupFeeAmount)),
		SignupFeeCurrency:   envOr("SIGNUP_FEE_CURRENCY", DefaultSignupFeeCurrency),
		PaymentSuccessURL:   envOr("PAYMENT_SUCCESS_URL", appURL+"/register/payment/success"),
		PaymentCancelURL:    envOr("PAYMENT_CANCEL_URL", appURL+"/register/payment/cancel"),

		EmailLimitPerIPPerHour:     DefaultEmailLimitPerIPPerHour,
		EmailLimitPerEmailPerHour:  DefaultEmailLimitPerEmailPerHour,
		GlobalEmailLimitPerHour:    DefaultGlobalEmailLimitPerHour,
		LoginLimitPerIPPerHour:     DefaultLoginLimitPerIPPerHour,
		ChallengeLimitPerIPPerHour: DefaultChallengeLimitPerIP,
		RateLimitWindow:            DefaultRateLimitWindow,

		CORSAllowedOrigins: []string{appURL},
		SeedDemoAccounts:   envBool("SEED_DEMO_ACCOUNTS", false),
	}
	if !envBool("CORS_HIGH_SECURITY", true) {
		cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, utils.CORSLowSecurityAllowedOriginLocalhost)
	}
	return cfg
}

func mustGetenv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		utils.Logger.Fatalf("%s env var is missing", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		utils.Logger.Fatalf("%s env var is not a valid bool: %q", key, v)
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		utils.Logger.Fatalf("%s env var is not a valid integer: %q", key, v)
	}
	return n
}
