package controllers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/dtos"
	"github.com/driftlock/desktop-auth/internal/middleware"
	"github.com/driftlock/desktop-auth/internal/models"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

const (
	flowEmail    = "alice@example.com"
	flowPassword = "sturdy-pass-42"
	flowVerifier = "a-very-long-and-random-code-verifier-string"
)

// newTestRouter wires the desktop handoff endpoints against in-memory
// storage, mirroring the production wiring in cmd/main.go.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cfg := &config.Config{
		OrganizationName:   "Driftlock",
		AppURL:             "https://auth.example.com",
		RSAPrivateKey:      key,
		RSAPublicKey:       &key.PublicKey,
		SessionTokenExpiry: time.Hour,
		ChallengeTTL:       time.Minute,
		MaxLoginAttempts:   10,
		AttemptWindow:      time.Minute,
		LockDuration:       time.Minute,

		EmailLimitPerIPPerHour:     50,
		EmailLimitPerEmailPerHour:  5,
		GlobalEmailLimitPerHour:    2000,
		LoginLimitPerIPPerHour:     100,
		ChallengeLimitPerIPPerHour: 60,
		RateLimitWindow:            time.Hour,
	}

	users := repositories.NewMemoryUserRepository()
	attempts := repositories.NewMemoryLoginAttemptsRepository()
	rateLimits := repositories.NewMemoryRateLimitRepository()
	challenges := repositories.NewMemoryChallengeRepository()

	hash, err := utils.HashPassword(flowPassword)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), &models.User{
		ID:           uuid.New(),
		Email:        flowEmail,
		PasswordHash: hash,
		FirstName:    "Alice",
		LastName:     "Tester",
		CreatedAt:    time.Now(),
	}))

	rateLimiter := services.NewRateLimiterService(rateLimits, cfg)
	registry := services.NewChallengeRegistry(challenges, cfg.ChallengeTTL)
	tokens := services.NewTokenService(cfg)
	authService := services.NewAuthService(cfg, users, attempts, rateLimiter, registry)
	exchangeService := services.NewExchangeService(registry, tokens, users)

	authController := NewAuthController(authService, tokens, cfg)
	desktopController := NewDesktopController(registry, exchangeService, rateLimiter, cfg)

	router := mux.NewRouter()
	v1 := router.PathPrefix("/auth/v1").Subrouter()
	v1.HandleFunc("/desktop/challenge", desktopController.RegisterChallenge).Methods("POST")
	v1.HandleFunc("/desktop/exchange", desktopController.Exchange).Methods("POST")
	v1.HandleFunc("/login", authController.Login).Methods("POST")

	protected := v1.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.HandleFunc("/me", authController.Me).Methods("GET")
	protected.HandleFunc("/me/password", authController.ChangePassword).Methods("POST")

	return router
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDesktopHandoffEndToEnd(t *testing.T) {
	router := newTestRouter(t)
	exchangeID := "exchange-" + uuid.NewString()

	// 1. Desktop registers its challenge before opening the browser.
	rec := postJSON(t, router, "/auth/v1/desktop/challenge", dtos.RegisterChallengeRequest{
		ExchangeID:          exchangeID,
		CodeChallenge:       utils.ChallengeFromVerifier(flowVerifier, utils.TransformS256),
		CodeChallengeMethod: "S256",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var challengeResp dtos.RegisterChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challengeResp))
	require.Contains(t, challengeResp.LoginURL, exchangeID)

	// 2. Exchanging before the login completes is refused, without a token.
	rec = postJSON(t, router, "/auth/v1/desktop/exchange", dtos.ExchangeRequest{
		ExchangeID:   exchangeID,
		CodeVerifier: flowVerifier,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NotContains(t, rec.Body.String(), "session_token")

	// 3. Browser login satisfies the challenge.
	rec = postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:      flowEmail,
		Password:   flowPassword,
		ExchangeID: exchangeID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 4. A wrong verifier is rejected and does not burn the challenge.
	rec = postJSON(t, router, "/auth/v1/desktop/exchange", dtos.ExchangeRequest{
		ExchangeID:   exchangeID,
		CodeVerifier: "completely-wrong-verifier-material",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// 5. The matching verifier redeems the exchange.
	rec = postJSON(t, router, "/auth/v1/desktop/exchange", dtos.ExchangeRequest{
		ExchangeID:   exchangeID,
		CodeVerifier: flowVerifier,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var exchangeResp dtos.ExchangeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exchangeResp))
	require.NotEmpty(t, exchangeResp.SessionToken)
	require.Equal(t, "Bearer", exchangeResp.TokenType)
	require.Equal(t, flowEmail, exchangeResp.User.Email)

	// 6. Replaying the exchange reads as an unknown id.
	rec = postJSON(t, router, "/auth/v1/desktop/exchange", dtos.ExchangeRequest{
		ExchangeID:   exchangeID,
		CodeVerifier: flowVerifier,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// 7. The minted token authenticates the desktop client.
	req := httptest.NewRequest(http.MethodGet, "/auth/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+exchangeResp.SessionToken)
	meRec := httptest.NewRecorder()
	router.ServeHTTP(meRec, req)
	require.Equal(t, http.StatusOK, meRec.Code, meRec.Body.String())

	var me dtos.UserResponse
	require.NoError(t, json.Unmarshal(meRec.Body.Bytes(), &me))
	require.Equal(t, flowEmail, me.Email)
}

func TestLoginDoesNotLeakAccountExistence(t *testing.T) {
	router := newTestRouter(t)

	recUnknown := postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:    "ghost@example.com",
		Password: "whatever-pass",
	})
	recWrong := postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:    flowEmail,
		Password: "wrong-password",
	})

	require.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	require.Equal(t, http.StatusUnauthorized, recWrong.Code)
	require.JSONEq(t, recUnknown.Body.String(), recWrong.Body.String(),
		"unknown account and wrong password must be externally identical")
}

func TestDuplicateChallengeRegistration(t *testing.T) {
	router := newTestRouter(t)
	req := dtos.RegisterChallengeRequest{
		ExchangeID:          "exchange-" + uuid.NewString(),
		CodeChallenge:       utils.ChallengeFromVerifier(flowVerifier, utils.TransformS256),
		CodeChallengeMethod: "S256",
	}

	rec := postJSON(t, router, "/auth/v1/desktop/challenge", req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, router, "/auth/v1/desktop/challenge", req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:    flowEmail,
		Password: flowPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := rec.Result().Cookies()
	require.NotEmpty(t, cookie)

	const newPassword = "rotated-pass-2026"
	raw, err := json.Marshal(dtos.ChangePasswordRequest{
		CurrentPassword: flowPassword,
		NewPassword:     newPassword,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/v1/me/password", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookie {
		req.AddCookie(c)
	}
	changeRec := httptest.NewRecorder()
	router.ServeHTTP(changeRec, req)
	require.Equal(t, http.StatusOK, changeRec.Code, changeRec.Body.String())

	rec = postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:    flowEmail,
		Password: flowPassword,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, router, "/auth/v1/login", dtos.LoginRequest{
		Email:    flowEmail,
		Password: newPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMeWithoutToken(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/v1/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
