package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/handlers"
	"github.com/Nancyzolla/Groupe8-SI3/internal/repositories"
	"github.com/Nancyzolla/Groupe8-SI3/internal/routes"
	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
)

// TestApp assembles the full HTTP stack over a TestDB the way main does,
// with timing delays zeroed so failure paths do not slow the suite down.
type TestApp struct {
	Server  *httptest.Server
	Bans    *services.BanService
	Threats *services.ThreatService
	Lockout *services.LockoutService
	Tokens  *services.TokenService
}

// SetupTestApp wires repositories, services, handlers and routes against the
// given database and starts an in-process HTTP server.
func SetupTestApp(db *TestDB) (*TestApp, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	threatCfg := config.ThreatConfig{
		BruteForcePerWindow: 20,
		BruteForceWindow:    60 * time.Second,
		FloodPerSecond:      50,
		FloodWindow:         5 * time.Second,
		ScanEndpoints:       15,
		ScanWindow:          60 * time.Second,
		StuffingUsernames:   10,
		StuffingWindow:      10 * time.Minute,
		ReplayWindow:        time.Hour,
		BanDuration:         30 * time.Minute,
		BanDurationSevere:   24 * time.Hour,
		BanDurationCap:      7 * 24 * time.Hour,
		WindowGrace:         5 * time.Minute,
		AlertRetention:      30 * 24 * time.Hour,
	}
	lockoutCfg := config.LockoutConfig{
		MaxFailures:   5,
		FailureWindow: 5 * time.Minute,
		BlockDuration: 5 * time.Minute,
		HardFailures:  20,
		HardWindow:    10 * time.Minute,
		HardBlock:     10 * time.Minute,
	}

	userRepo := repositories.NewUserRepository(db.DB)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db.DB)
	banRepo := repositories.NewBanRepository(db.DB)
	alertRepo := repositories.NewAlertRepository(db.DB)
	loginFailureRepo := repositories.NewLoginFailureRepository(db.DB)

	tokenManager, err := auth.NewTokenManager("", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	alertService := services.NewAlertService(alertRepo, 2*time.Second, logger)
	banService := services.NewBanService(banRepo, threatCfg, 2*time.Second, logger)
	threatService := services.NewThreatService(threatCfg, banService, alertService, logger)
	lockoutService := services.NewLockoutService(loginFailureRepo, lockoutCfg, 2*time.Second, logger)
	tokenService := services.NewTokenService(refreshTokenRepo, userRepo, tokenManager,
		15*time.Minute, 7*24*time.Hour, logger)
	loginService := services.NewLoginService(userRepo, lockoutService, tokenService,
		auth.NewTOTPVerifier(), auth.NewTimingDelay(auth.TimingConfig{}), logger)

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(loginService, tokenService, ipConfig)
	adminHandler := handlers.NewAdminHandler(banService, alertService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	routes.RegisterRoutes(router, authHandler, adminHandler, tokenManager, threatService, ipConfig, logger)

	return &TestApp{
		Server:  httptest.NewServer(router),
		Bans:    banService,
		Threats: threatService,
		Lockout: lockoutService,
		Tokens:  tokenService,
	}, nil
}

func (a *TestApp) Close() {
	a.Server.Close()
}

// PostJSON sends a JSON POST to the app and returns the response.
func (a *TestApp) PostJSON(path string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, a.Server.URL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return a.Server.Client().Do(req)
}

// Get sends a GET to the app with optional headers.
func (a *TestApp) Get(path string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, a.Server.URL+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return a.Server.Client().Do(req)
}

// Login authenticates a seeded user and returns the decoded token response.
func (a *TestApp) Login(username, password, totpCode string) (map[string]any, int, error) {
	resp, err := a.PostJSON("/auth/login", map[string]string{
		"username":  username,
		"password":  password,
		"totp_code": totpCode,
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, resp.StatusCode, err
	}
	return decoded, resp.StatusCode, nil
}
