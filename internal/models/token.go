package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshToken is one issued refresh credential. The token id is opaque and
// random; Used flips to true exactly once, on the rotation that consumes it.
// FamilyID ties together every token descended from one login.
type RefreshToken struct {
	Token     string    `db:"token"`
	Username  string    `db:"username"`
	FamilyID  string    `db:"family_id"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the refresh token is past its expiry.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AccessClaims are the signed claims of a short-lived access token. Validity
// is purely cryptographic and time-based; claims are never stored.
type AccessClaims struct {
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
	jwt.RegisteredClaims
}
