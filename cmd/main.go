package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/driftlock/desktop-auth/internal/app"
	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/controllers"
	"github.com/driftlock/desktop-auth/internal/middleware"
	"github.com/driftlock/desktop-auth/internal/repositories"
	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.InitLogger(cfg.AppName)

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	//----------------------------------------------------------------------
	// Repositories
	//----------------------------------------------------------------------
	userRepo := repositories.NewUserRepository(application.DB)
	challengeRepo := repositories.NewChallengeRepository(application.DB)
	registrationRepo := repositories.NewRegistrationRepository(application.DB)
	loginAttemptsRepo := repositories.NewLoginAttemptsRepository(application.DB)
	rateLimitRepo := repositories.NewRateLimitRepository(application.DB)

	if cfg.SeedDemoAccounts {
		if err := app.SeedDemoAccounts(context.Background(), userRepo); err != nil {
			utils.Logger.Fatal("Failed to seed demo accounts:", err)
		}
	}

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	rateLimiterService := services.NewRateLimiterService(rateLimitRepo, cfg)
	challengeRegistry := services.NewChallengeRegistry(challengeRepo, cfg.ChallengeTTL)
	tokenService := services.NewTokenService(cfg)
	emailService := services.NewEmailService(cfg)
	paymentProcessor := services.NewStripePaymentProcessor(cfg)

	authService := services.NewAuthService(cfg, userRepo, loginAttemptsRepo, rateLimiterService, challengeRegistry)
	exchangeService := services.NewExchangeService(challengeRegistry, tokenService, userRepo)
	registrationService := services.NewRegistrationService(
		cfg,
		registrationRepo,
		userRepo,
		emailService,
		paymentProcessor,
		rateLimiterService,
	)

	cleanupService := services.NewCleanupService(
		challengeRegistry,
		registrationService,
		loginAttemptsRepo,
		rateLimitRepo,
	)

	//----------------------------------------------------------------------
	// Controllers
	//----------------------------------------------------------------------
	authController := controllers.NewAuthController(authService, tokenService, cfg)
	desktopController := controllers.NewDesktopController(challengeRegistry, exchangeService, rateLimiterService, cfg)
	registrationController := controllers.NewRegistrationController(registrationService)
	webhookController := controllers.NewPaymentWebhookController(cfg, registrationService)
	healthController := controllers.NewHealthController(application)

	//----------------------------------------------------------------------
	// Router & Endpoints
	//----------------------------------------------------------------------
	router := mux.NewRouter()

	// Health
	router.HandleFunc("/health", healthController.HealthCheckHandler).Methods("GET")

	// /auth/v1
	authRouter := router.PathPrefix("/auth").Subrouter()
	v1Router := authRouter.PathPrefix("/v1").Subrouter()

	// Desktop exchange protocol
	v1Router.HandleFunc("/desktop/challenge", desktopController.RegisterChallenge).Methods("POST")
	v1Router.HandleFunc("/desktop/exchange", desktopController.Exchange).Methods("POST")

	// Browser login
	v1Router.HandleFunc("/login", authController.Login).Methods("POST")

	// Registration wizard
	v1Router.HandleFunc("/register", registrationController.Start).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}", registrationController.Status).Methods("GET")
	v1Router.HandleFunc("/register/{sessionID}", registrationController.Cancel).Methods("DELETE")
	v1Router.HandleFunc("/register/{sessionID}/data", registrationController.SubmitData).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/email/request", registrationController.RequestEmailCode).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/email", registrationController.SubmitEmailCode).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/2fa/secret", registrationController.GenerateTwoFactorSecret).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/2fa", registrationController.SubmitTwoFactorCode).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/payment", registrationController.StartPayment).Methods("POST")
	v1Router.HandleFunc("/register/{sessionID}/confirm", registrationController.Confirm).Methods("POST")

	// Payment processor callbacks
	v1Router.HandleFunc("/payments/webhook", webhookController.WebhookHandler).Methods("POST")

	// Protected endpoints require a valid session token
	protected := v1Router.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(tokenService))
	protected.HandleFunc("/me", authController.Me).Methods("GET")
	protected.HandleFunc("/me/password", authController.ChangePassword).Methods("POST")
	protected.HandleFunc("/logout", authController.Logout).Methods("POST")

	//----------------------------------------------------------------------
	// Scheduled cleanup via cron
	//----------------------------------------------------------------------
	c := cron.New()

	// challenge TTLs are minutes, sweep often
	_, schErr1 := c.AddFunc("*/5 * * * *", func() {
		if e := cleanupService.CleanupChallenges(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled challenge cleanup failed")
		}
	})
	if schErr1 != nil {
		utils.Logger.WithError(schErr1).Fatal("Failed to schedule challenge cleanup job")
	}

	_, schErr2 := c.AddFunc("0 3 * * *", func() {
		if e := cleanupService.CleanupDaily(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled daily cleanup failed")
		}
	})
	if schErr2 != nil {
		utils.Logger.WithError(schErr2).Fatal("Failed to schedule daily cleanup job")
	}

	c.Start()

	co := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		utils.Logger.Fatal("Failed to start server:", err)
	}
}
