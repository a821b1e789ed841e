package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs and verifies RS256 access tokens. Refresh tokens are
// opaque and never pass through this type.
type TokenManager struct {
	privateKey        *rsa.PrivateKey
	accessTokenExpiry time.Duration

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewTokenManager builds a TokenManager from a PEM-encoded RSA private key.
// An empty key generates an ephemeral 2048-bit key, which invalidates every
// outstanding access token on restart.
func NewTokenManager(signingKeyPEM string, accessExpiry time.Duration) (*TokenManager, error) {
	var key *rsa.PrivateKey
	var err error

	if signingKeyPEM == "" {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	} else {
		key, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(signingKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}

	return &TokenManager{
		privateKey:        key,
		accessTokenExpiry: accessExpiry,
		Clock:             time.Now,
	}, nil
}

// PublicKey exposes the verification half of the signing key.
func (tm *TokenManager) PublicKey() *rsa.PublicKey {
	return &tm.privateKey.PublicKey
}

// GenerateAccessToken creates a short-lived access token with a unique JTI
func (tm *TokenManager) GenerateAccessToken(username, role string, mustChangePassword bool) (string, error) {
	now := tm.Clock()

	claims := &models.AccessClaims{
		Role:               role,
		MustChangePassword: mustChangePassword,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	tokenString, err := token.SignedString(tm.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// VerifyAccessToken checks signature and expiry. An expired but otherwise
// well-formed token returns models.ErrTokenExpired so callers can tell the
// client to refresh rather than re-authenticate.
func (tm *TokenManager) VerifyAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &tm.privateKey.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return tm.Clock() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}
