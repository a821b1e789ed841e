package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Threat   ThreatConfig
	Lockout  LockoutConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// QueryTimeout bounds durable calls made off the hot decision path so a
	// slow database degrades to "not found" instead of stalling requests.
	QueryTimeout time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// TrustedProxies lists CIDR ranges allowed to set forwarding headers.
	// Client IPs feed the ban and lockout state, so forwarded headers from
	// anywhere else are ignored.
	TrustedProxies []string
}

type AuthConfig struct {
	// SigningKeyPEM is the PEM-encoded RSA private key used to sign access
	// tokens. When empty an ephemeral key is generated at startup, which
	// invalidates outstanding tokens across restarts.
	SigningKeyPEM      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	TimingDelayBaseMs  int
	TimingDelayRandMs  int
}

// ThreatConfig holds the detection thresholds. Zero or negative values are a
// configuration error: the service must not accept traffic half-protected.
type ThreatConfig struct {
	// BruteForcePerWindow is the base request-volume threshold per IP within
	// BruteForceWindow. 1x logs MEDIUM, 2x logs HIGH, 3x bans CRITICAL.
	BruteForcePerWindow int
	BruteForceWindow    time.Duration

	// FloodPerSecond * FloodWindow requests within FloodWindow is a flood.
	FloodPerSecond int
	FloodWindow    time.Duration

	// ScanEndpoints distinct paths within ScanWindow is an endpoint scan.
	ScanEndpoints int
	ScanWindow    time.Duration

	// StuffingUsernames distinct usernames from one IP within StuffingWindow
	// is credential stuffing; half the threshold logs without blocking.
	StuffingUsernames int
	StuffingWindow    time.Duration

	// ReplayWindow bounds how long a bearer token stays associated with the
	// IPs that presented it.
	ReplayWindow time.Duration

	// Ban durations by severity. Repeat offenders have the duration doubled
	// per prior ban, capped at BanDurationCap.
	BanDuration       time.Duration
	BanDurationSevere time.Duration
	BanDurationCap    time.Duration

	// WindowGrace is how long an empty window lingers before garbage
	// collection drops it.
	WindowGrace time.Duration

	// AlertRetention is how long the alert trail is kept before cleanup.
	AlertRetention time.Duration
}

// LockoutConfig holds the per-(username, IP) brute-force lockout tiers.
type LockoutConfig struct {
	MaxFailures   int           // tier 1 threshold
	FailureWindow time.Duration // tier 1 counting window
	BlockDuration time.Duration // tier 1 lockout, measured from the last failure
	HardFailures  int           // tier 2 threshold
	HardWindow    time.Duration // tier 2 counting window
	HardBlock     time.Duration // tier 2 lockout
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              env.Int("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "groupe8"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(env.Int("DB_MAX_CONNS", 25)),
			MinConns:          int32(env.Int("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   env.Duration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   env.Duration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: env.Duration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      env.Duration("DB_QUERY_TIMEOUT", 2*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            getEnv("ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Auth: AuthConfig{
			SigningKeyPEM:      getEnv("JWT_SIGNING_KEY", ""),
			AccessTokenExpiry:  env.Duration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: env.Duration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    env.Duration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:  env.Int("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandMs:  env.Int("TIMING_DELAY_RANDOM_MS", 100),
		},
		Threat: ThreatConfig{
			BruteForcePerWindow: env.Int("THREAT_BRUTE_FORCE_PER_WINDOW", 20),
			BruteForceWindow:    env.Duration("THREAT_BRUTE_FORCE_WINDOW", 60*time.Second),
			FloodPerSecond:      env.Int("THREAT_FLOOD_PER_SECOND", 50),
			FloodWindow:         env.Duration("THREAT_FLOOD_WINDOW", 5*time.Second),
			ScanEndpoints:       env.Int("THREAT_SCAN_ENDPOINTS", 15),
			ScanWindow:          env.Duration("THREAT_SCAN_WINDOW", 60*time.Second),
			StuffingUsernames:   env.Int("THREAT_STUFFING_USERNAMES", 10),
			StuffingWindow:      env.Duration("THREAT_STUFFING_WINDOW", 10*time.Minute),
			ReplayWindow:        env.Duration("THREAT_REPLAY_WINDOW", 1*time.Hour),
			BanDuration:         env.Duration("THREAT_BAN_DURATION", 30*time.Minute),
			BanDurationSevere:   env.Duration("THREAT_BAN_DURATION_SEVERE", 24*time.Hour),
			BanDurationCap:      env.Duration("THREAT_BAN_DURATION_CAP", 7*24*time.Hour),
			WindowGrace:         env.Duration("THREAT_WINDOW_GRACE", 5*time.Minute),
			AlertRetention:      env.Duration("THREAT_ALERT_RETENTION", 30*24*time.Hour),
		},
		Lockout: LockoutConfig{
			MaxFailures:   env.Int("LOCKOUT_MAX_FAILURES", 5),
			FailureWindow: env.Duration("LOCKOUT_FAILURE_WINDOW", 5*time.Minute),
			BlockDuration: env.Duration("LOCKOUT_BLOCK_DURATION", 5*time.Minute),
			HardFailures:  env.Int("LOCKOUT_HARD_FAILURES", 20),
			HardWindow:    env.Duration("LOCKOUT_HARD_WINDOW", 10*time.Minute),
			HardBlock:     env.Duration("LOCKOUT_HARD_BLOCK", 10*time.Minute),
		},
	}

	// A value that fails to parse must stop the service, not fall back to a
	// default that silently weakens the thresholds.
	if err := env.Err(); err != nil {
		return nil, err
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Threat.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects unusable detection thresholds.
func (c *ThreatConfig) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"THREAT_BRUTE_FORCE_PER_WINDOW", c.BruteForcePerWindow > 0},
		{"THREAT_BRUTE_FORCE_WINDOW", c.BruteForceWindow > 0},
		{"THREAT_FLOOD_PER_SECOND", c.FloodPerSecond > 0},
		{"THREAT_FLOOD_WINDOW", c.FloodWindow > 0},
		{"THREAT_SCAN_ENDPOINTS", c.ScanEndpoints > 0},
		{"THREAT_SCAN_WINDOW", c.ScanWindow > 0},
		{"THREAT_STUFFING_USERNAMES", c.StuffingUsernames > 1},
		{"THREAT_STUFFING_WINDOW", c.StuffingWindow > 0},
		{"THREAT_REPLAY_WINDOW", c.ReplayWindow > 0},
		{"THREAT_BAN_DURATION", c.BanDuration > 0},
		{"THREAT_BAN_DURATION_SEVERE", c.BanDurationSevere >= c.BanDuration},
		{"THREAT_BAN_DURATION_CAP", c.BanDurationCap >= c.BanDurationSevere},
		{"THREAT_ALERT_RETENTION", c.AlertRetention > 0},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("invalid threat threshold: %s", check.name)
		}
	}
	return nil
}

// Validate rejects unusable lockout tiers.
func (c *LockoutConfig) Validate() error {
	if c.MaxFailures <= 0 || c.HardFailures <= c.MaxFailures {
		return fmt.Errorf("invalid lockout thresholds: hard tier (%d) must exceed normal tier (%d)", c.HardFailures, c.MaxFailures)
	}
	if c.FailureWindow <= 0 || c.BlockDuration <= 0 || c.HardWindow <= 0 || c.HardBlock <= 0 {
		return fmt.Errorf("lockout windows and durations must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// envReader collects parse failures so Load can report every malformed
// variable at once instead of stopping at the first.
type envReader struct {
	errs []error
}

func (e *envReader) Int(key string, defaultVal int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultVal
	}
	return n
}

func (e *envReader) Duration(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultVal
	}
	return d
}

func (e *envReader) Err() error {
	return errors.Join(e.errs...)
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
