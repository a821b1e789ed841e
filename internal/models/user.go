package models

import "time"

// User is an account able to authenticate against the service.
type User struct {
	Username           string    `db:"username"`
	PasswordHash       string    `db:"password_hash"`
	TOTPSecret         string    `db:"totp_secret"`
	Role               string    `db:"role"`
	Active             bool      `db:"active"`
	MustChangePassword bool      `db:"must_change_password"`
	CreatedAt          time.Time `db:"created_at"`
}
