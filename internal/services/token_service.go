package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/google/uuid"
)

// RefreshTokenStore defines the interface for refresh token persistence
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Get(ctx context.Context, token string) (*models.RefreshToken, error)
	Consume(ctx context.Context, oldToken string, next *models.RefreshToken) error
	Delete(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, username string) (int64, error)
}

// UserFetcher defines the interface for reading user accounts
type UserFetcher interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// TokenPair is one issued access + refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// TokenService owns the token lifecycle: signed short-lived access tokens and
// opaque single-use refresh tokens grouped into families. Reuse of a spent
// refresh token revokes the whole user's token set.
type TokenService struct {
	tokens        RefreshTokenStore
	users         UserFetcher
	manager       *auth.TokenManager
	refreshExpiry time.Duration
	accessExpiry  time.Duration
	logger        *slog.Logger

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewTokenService creates a new TokenService
func NewTokenService(tokens RefreshTokenStore, users UserFetcher, manager *auth.TokenManager, accessExpiry, refreshExpiry time.Duration, logger *slog.Logger) *TokenService {
	return &TokenService{
		tokens:        tokens,
		users:         users,
		manager:       manager,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		logger:        logger,
		Clock:         time.Now,
	}
}

// IssuePair mints an access token and a fresh refresh token in a new family.
// Called on successful login.
func (s *TokenService) IssuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	return s.issue(ctx, user, uuid.New().String())
}

func (s *TokenService) issue(ctx context.Context, user *models.User, familyID string) (*TokenPair, error) {
	access, err := s.manager.GenerateAccessToken(user.Username, user.Role, user.MustChangePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	now := s.Clock()
	refresh := &models.RefreshToken{
		Token:     uuid.New().String(),
		Username:  user.Username,
		FamilyID:  familyID,
		ExpiresAt: now.Add(s.refreshExpiry),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresIn:    int(s.accessExpiry.Seconds()),
	}, nil
}

// Rotate exchanges a refresh token for a new pair. Unknown tokens fail
// without side effects; expired tokens are deleted; a token that was already
// spent is treated as theft and revokes every token the user holds. The
// mark-used flip is atomic, so two concurrent rotations of the same token
// resolve to exactly one winner.
func (s *TokenService) Rotate(ctx context.Context, tokenString string) (*TokenPair, error) {
	rec, err := s.tokens.Get(ctx, tokenString)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenUnknown
		}
		return nil, err
	}

	if rec.Expired(s.Clock()) {
		if err := s.tokens.Delete(ctx, tokenString); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to delete expired refresh token", slog.Any("error", err))
		}
		return nil, models.ErrTokenExpired
	}

	if rec.Used {
		return nil, s.revokeFamily(ctx, rec.Username, "refresh token replayed")
	}

	user, err := s.users.GetByUsername(ctx, rec.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if !user.Active {
		return nil, models.ErrAccountDisabled
	}

	access, err := s.manager.GenerateAccessToken(user.Username, user.Role, user.MustChangePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	now := s.Clock()
	next := &models.RefreshToken{
		Token:     uuid.New().String(),
		Username:  rec.Username,
		FamilyID:  rec.FamilyID,
		ExpiresAt: now.Add(s.refreshExpiry),
		CreatedAt: now,
	}

	if err := s.tokens.Consume(ctx, tokenString, next); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost the race: someone else spent this token first.
			return nil, s.revokeFamily(ctx, rec.Username, "concurrent refresh token reuse")
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: next.Token,
		ExpiresIn:    int(s.accessExpiry.Seconds()),
	}, nil
}

// revokeFamily deletes every refresh token the user holds and reports the
// token as compromised.
func (s *TokenService) revokeFamily(ctx context.Context, username, cause string) error {
	n, err := s.tokens.DeleteAllForUser(ctx, username)
	if err != nil {
		s.logger.Error("failed to revoke token family",
			slog.String("username", username), slog.Any("error", err))
	}
	s.logger.Error("refresh token reuse, revoking all sessions",
		slog.String("username", username),
		slog.String("cause", cause),
		slog.Int64("revoked", n))
	return models.ErrTokenCompromised
}

// Verify validates an access token signature and expiry.
func (s *TokenService) Verify(tokenString string) (*models.AccessClaims, error) {
	return s.manager.VerifyAccessToken(tokenString)
}
