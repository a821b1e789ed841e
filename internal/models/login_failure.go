package models

import "time"

// LoginFailureRecord is one failed credential attempt for a (username, IP)
// pair. Records are deleted in bulk on the next successful login for the pair.
type LoginFailureRecord struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	IPAddress string    `db:"ip_address"`
	CreatedAt time.Time `db:"created_at"`
}
