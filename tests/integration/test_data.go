package integration

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// TestTOTPSecret is a fixed base32 secret shared by seeded test users.
const TestTOTPSecret = "JBSWY3DPEHPK3PXP"

// TestUser generates unique test user credentials using a timestamp.
func TestUser(suffix string) (username, password string) {
	ts := time.Now().UnixNano()
	username = fmt.Sprintf("test-%d-%s", ts, suffix)
	password = "TestPassword123!"
	return
}

// CurrentTOTPCode computes the valid TOTP code for a secret right now.
func CurrentTOTPCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}
