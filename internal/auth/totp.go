package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPVerifier validates time-based one-time codes. Secrets are provisioned
// out of band and stored base32-encoded on the user record.
type TOTPVerifier struct {
	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewTOTPVerifier creates a new TOTPVerifier
func NewTOTPVerifier() *TOTPVerifier {
	return &TOTPVerifier{Clock: time.Now}
}

// Verify checks a 6-digit code against a base32 secret.
// Allows ±1 time step (90 seconds total window) for clock drift.
func (v *TOTPVerifier) Verify(secret, code string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, v.Clock(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}
