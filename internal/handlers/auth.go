package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
)

// LoginPerformer defines the interface for the credential flow
type LoginPerformer interface {
	Login(ctx context.Context, username, password, totpCode, ip string) (*services.LoginResult, error)
}

// TokenRotator defines the interface for refresh token rotation
type TokenRotator interface {
	Rotate(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	login    LoginPerformer
	tokens   TokenRotator
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginPerformer, tokens TokenRotator, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		tokens:   tokens,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code" validate:"required,len=6,numeric"`
}

// RefreshRequest represents the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenResponse is the body returned for a successful login or refresh
type TokenResponse struct {
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	Role               string `json:"role,omitempty"`
	MustChangePassword bool   `json:"must_change_password,omitempty"`
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.login.Login(r.Context(), req.Username, req.Password, req.TOTPCode, ipAddress)
	if err != nil {
		var locked *services.LockedOutError
		var failed *services.FailedLoginError
		switch {
		case errors.As(err, &locked):
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(locked.RetryAfter.Seconds())))
			pkghttp.WriteTooManyRequests(w, "Account temporarily locked. Please try again later.")
		case errors.As(err, &failed):
			pkghttp.WriteUnauthorized(w, failed.Error())
		case errors.Is(err, models.ErrAccountDisabled):
			// Same body as a bad credential so account state cannot be probed.
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeTokenResponse(w, http.StatusOK, &TokenResponse{
		AccessToken:        result.Pair.AccessToken,
		RefreshToken:       result.Pair.RefreshToken,
		TokenType:          "Bearer",
		ExpiresIn:          result.Pair.ExpiresIn,
		Role:               result.Role,
		MustChangePassword: result.MustChangePassword,
	})
}

// Refresh handles refresh token rotation
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenUnknown):
			pkghttp.WriteUnauthorized(w, "unknown token")
		case errors.Is(err, models.ErrTokenExpired):
			pkghttp.WriteUnauthorized(w, "expired")
		case errors.Is(err, models.ErrTokenCompromised):
			pkghttp.WriteUnauthorized(w, "compromised")
		case errors.Is(err, models.ErrTokenInvalid),
			errors.Is(err, models.ErrAccountDisabled):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeTokenResponse(w, http.StatusOK, &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	})
}

func writeTokenResponse(w http.ResponseWriter, status int, resp *TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
