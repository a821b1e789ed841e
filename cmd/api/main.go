package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/background"
	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/handlers"
	middlewareCustom "github.com/Nancyzolla/Groupe8-SI3/internal/middleware"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/repositories"
	"github.com/Nancyzolla/Groupe8-SI3/internal/routes"
	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	pkgauth "github.com/Nancyzolla/Groupe8-SI3/pkg/auth"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pquerna/otp/totp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply migrations before accepting traffic
	if err := database.EnsureSchema(cfg.Database.DSN(), logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	banRepo := repositories.NewBanRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	loginFailureRepo := repositories.NewLoginFailureRepository(db)

	// Initialize token manager
	tokenManager, err := auth.NewTokenManager(cfg.Auth.SigningKeyPEM, cfg.Auth.AccessTokenExpiry)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Auth.SigningKeyPEM == "" {
		logger.Warn("JWT_SIGNING_KEY not set, using an ephemeral key; tokens will not survive a restart")
	}

	totpVerifier := auth.NewTOTPVerifier()
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	// Initialize services
	alertService := services.NewAlertService(alertRepo, cfg.Database.QueryTimeout, logger)
	banService := services.NewBanService(banRepo, cfg.Threat, cfg.Database.QueryTimeout, logger)
	threatService := services.NewThreatService(cfg.Threat, banService, alertService, logger)
	lockoutService := services.NewLockoutService(loginFailureRepo, cfg.Lockout, cfg.Database.QueryTimeout, logger)
	tokenService := services.NewTokenService(refreshTokenRepo, userRepo, tokenManager,
		cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, logger)
	loginService := services.NewLoginService(userRepo, lockoutService, tokenService, totpVerifier, timingDelay, logger)

	// Rehydrate in-memory enforcement state from the durable mirror
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := banService.WarmStart(warmCtx); err != nil {
		logger.Error("ban warm start failed, starting with empty ban state", slog.Any("error", err))
	}
	if err := lockoutService.WarmStart(warmCtx); err != nil {
		logger.Error("lockout warm start failed, starting with empty lockout state", slog.Any("error", err))
	}
	warmCancel()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		banRepo, refreshTokenRepo, loginFailureRepo, alertRepo,
		cfg.Lockout.HardWindow, cfg.Threat.AlertRetention,
		logger, cfg.Auth.CleanupInterval,
	)
	cleanupManager.AddPruner(threatService.PruneWindows)
	cleanupManager.AddPruner(banService.Sweep)
	cleanupManager.AddPruner(func() int { return lockoutService.Prune(cfg.Threat.WindowGrace) })

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, tokenService, ipConfig)
	adminHandler := handlers.NewAdminHandler(banService, alertService)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, tokenManager, threatService, ipConfig, logger)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME and
// ADMIN_PASSWORD are set. The account starts with must_change_password so
// the bootstrap credential cannot stay in use.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	totpKey, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "groupe8-si3",
		AccountName: adminUsername,
	})
	if err != nil {
		return fmt.Errorf("failed to generate admin TOTP secret: %w", err)
	}

	admin := &models.User{
		Username:           adminUsername,
		PasswordHash:       hashedPassword,
		TOTPSecret:         totpKey.Secret(),
		Role:               "admin",
		Active:             true,
		MustChangePassword: true,
	}

	if err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	// The secret is needed once to enroll an authenticator; it is only
	// printed at creation time.
	logger.Info("admin user created",
		slog.String("username", adminUsername),
		slog.String("totp_secret", totpKey.Secret()),
		slog.String("otpauth_url", totpKey.URL()))
	return nil
}
