package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/threat"
)

// LoginFailureStore defines the interface for the durable failure mirror
type LoginFailureStore interface {
	Insert(ctx context.Context, username, ip string, at time.Time) error
	DeletePair(ctx context.Context, username, ip string) error
	ListSince(ctx context.Context, since time.Time) ([]*models.LoginFailureRecord, error)
}

// LockoutService is the per-(username, IP) brute-force guard for the login
// flow. Two tiers: a hard tier for aggressive bursts and a normal tier whose
// lock runs from the most recent failure. In-memory windows decide; the
// durable mirror only feeds warm starts and audit.
type LockoutService struct {
	store        LoginFailureStore
	cfg          config.LockoutConfig
	logger       *slog.Logger
	writeTimeout time.Duration

	failures *threat.WindowMap

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(store LoginFailureStore, cfg config.LockoutConfig, writeTimeout time.Duration, logger *slog.Logger) *LockoutService {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	retention := cfg.HardWindow
	if cfg.FailureWindow > retention {
		retention = cfg.FailureWindow
	}
	return &LockoutService{
		store:        store,
		cfg:          cfg,
		logger:       logger,
		writeTimeout: writeTimeout,
		failures:     threat.NewWindowMap(retention),
		Clock:        time.Now,
	}
}

func lockoutKey(username, ip string) string {
	return username + "|" + ip
}

// WarmStart replays recent durable failures into the windows so a restart
// does not release an in-progress lockout.
func (s *LockoutService) WarmStart(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	since := s.Clock().Add(-s.cfg.HardWindow)
	records, err := s.store.ListSince(ctx, since)
	if err != nil {
		return err
	}

	for _, rec := range records {
		s.failures.Record(lockoutKey(rec.Username, rec.IPAddress), s.cfg.FailureWindow, rec.CreatedAt)
	}

	s.logger.Info("lockout windows warmed", slog.Int("failures", len(records)))
	return nil
}

// IsLocked reports whether the pair is currently locked out and for how much
// longer. The hard tier is checked first and returns its full block duration;
// the normal tier returns the remainder of the block measured from the most
// recent failure.
func (s *LockoutService) IsLocked(username, ip string) (bool, time.Duration) {
	now := s.Clock()
	key := lockoutKey(username, ip)

	if n := s.failures.Count(key, s.cfg.HardWindow, now); n >= s.cfg.HardFailures {
		s.logger.Error("aggressive brute force on account",
			slog.String("username", username),
			slog.String("ip_address", ip),
			slog.Int("failures", n))
		return true, s.cfg.HardBlock
	}

	if n := s.failures.Count(key, s.cfg.FailureWindow, now); n >= s.cfg.MaxFailures {
		last := s.failures.Newest(key)
		remaining := s.cfg.BlockDuration - now.Sub(last)
		if remaining > 0 {
			s.logger.Warn("account locked",
				slog.String("username", username),
				slog.String("ip_address", ip),
				slog.Duration("remaining", remaining))
			return true, remaining
		}
	}

	return false, 0
}

// RecordFailure registers one failed attempt and returns the failure count
// within the normal window, the new failure included.
func (s *LockoutService) RecordFailure(username, ip string) int {
	now := s.Clock()
	n := s.failures.Record(lockoutKey(username, ip), s.cfg.FailureWindow, now)

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if err := s.store.Insert(ctx, username, ip, now); err != nil {
			s.logger.Error("failed to mirror login failure",
				slog.String("username", username), slog.Any("error", err))
		}
	}

	return n
}

// RecordSuccess clears the pair's failure history.
func (s *LockoutService) RecordSuccess(username, ip string) {
	s.failures.Clear(lockoutKey(username, ip))

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if err := s.store.DeletePair(ctx, username, ip); err != nil {
			s.logger.Error("failed to clear login failures",
				slog.String("username", username), slog.Any("error", err))
		}
	}
}

// MaxFailures exposes the normal-tier threshold for attempt counters in
// login responses.
func (s *LockoutService) MaxFailures() int {
	return s.cfg.MaxFailures
}

// Prune garbage-collects idle windows. Called by the background cleanup loop.
func (s *LockoutService) Prune(grace time.Duration) int {
	return s.failures.Prune(grace, s.Clock())
}
