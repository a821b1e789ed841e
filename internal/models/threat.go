package models

import "time"

// Severity classifies a detection decision. The set is closed: every severity
// has a total mapping to (auto-ban, ban duration class) via AutoBan and
// BanDuration, so the escalation policy is statically checkable.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AutoBan reports whether an alert at this severity inserts a ban record when
// the detector decides to block.
func (s Severity) AutoBan() bool {
	switch s {
	case SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Attack types recorded in alert events
const (
	AttackBanEnforced        = "BAN_IP"
	AttackFlood              = "DDOS_FLOOD"
	AttackBruteForceIP       = "BRUTE_FORCE_IP"
	AttackRateLimit          = "RATE_LIMIT"
	AttackEndpointScan       = "SCAN_ENDPOINTS"
	AttackPathTraversal      = "PATH_TRAVERSAL"
	AttackKnownScanner       = "ATTACK_TOOL"
	AttackSQLInjection       = "SQL_INJECTION"
	AttackXSS                = "XSS_ATTEMPT"
	AttackCredentialStuffing = "CREDENTIAL_STUFFING"
	AttackTokenReplay        = "TOKEN_REPLAY"
)

// AlertEvent is an immutable record of one detection decision. Rows are
// append-only; the core never mutates or deletes them.
type AlertEvent struct {
	ID         int64     `json:"id" db:"id"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	AttackType string    `json:"attack_type" db:"attack_type"`
	Severity   Severity  `json:"severity" db:"severity"`
	Detail     string    `json:"detail" db:"detail"`
	Blocked    bool      `json:"blocked" db:"blocked"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// BanRecord is an active or expired suspension of an IP. BanCount persists
// across bans for the same IP and drives escalation: repeat offenders get
// longer bans.
type BanRecord struct {
	IPAddress string    `db:"ip_address"`
	Reason    string    `db:"reason"`
	StartedAt time.Time `db:"started_at"`
	ExpiresAt time.Time `db:"expires_at"`
	BanCount  int       `db:"ban_count"`
}

// Active reports whether the ban is still in force at the given instant.
func (b *BanRecord) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// RemainingSeconds returns whole seconds until expiry, never negative.
func (b *BanRecord) RemainingSeconds(now time.Time) int {
	remaining := int(b.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
