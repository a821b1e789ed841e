package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryStore deletes durable rows whose lifetime has passed.
type ExpiryStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RetentionStore deletes durable rows older than a cutoff.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryPruner drops idle in-memory tracking state and reports how many
// entries were released.
type MemoryPruner func() int

// CleanupManager periodically sweeps expired bans, refresh tokens, stale
// login failures and old alerts, and garbage-collects the in-memory
// detection windows.
type CleanupManager struct {
	bans           ExpiryStore
	refreshTokens  ExpiryStore
	loginFailures  RetentionStore
	alerts         RetentionStore
	pruners        []MemoryPruner
	failureMaxAge  time.Duration
	alertRetention time.Duration
	logger         *slog.Logger
	interval       time.Duration
	stopCh         chan struct{}
}

func NewCleanupManager(
	bans ExpiryStore,
	refreshTokens ExpiryStore,
	loginFailures RetentionStore,
	alerts RetentionStore,
	failureMaxAge time.Duration,
	alertRetention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		bans:           bans,
		refreshTokens:  refreshTokens,
		loginFailures:  loginFailures,
		alerts:         alerts,
		failureMaxAge:  failureMaxAge,
		alertRetention: alertRetention,
		logger:         logger,
		interval:       interval,
		stopCh:         make(chan struct{}),
	}
}

// AddPruner registers an in-memory garbage collection hook to run each sweep.
func (cm *CleanupManager) AddPruner(p MemoryPruner) {
	cm.pruners = append(cm.pruners, p)
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	type sweep struct {
		name string
		run  func() (int64, error)
	}
	sweeps := []sweep{
		{"bans", func() (int64, error) { return cm.bans.DeleteExpired(cleanupCtx, now) }},
		{"refresh_tokens", func() (int64, error) { return cm.refreshTokens.DeleteExpired(cleanupCtx, now) }},
		{"login_failures", func() (int64, error) {
			return cm.loginFailures.DeleteOlderThan(cleanupCtx, now.Add(-cm.failureMaxAge))
		}},
		{"alerts", func() (int64, error) {
			return cm.alerts.DeleteOlderThan(cleanupCtx, now.Add(-cm.alertRetention))
		}},
	}

	for _, s := range sweeps {
		deleted, err := s.run()
		if err != nil {
			cm.logger.Error("cleanup sweep failed",
				slog.String("target", s.name),
				slog.Any("error", err))
			continue
		}
		if deleted > 0 {
			cm.logger.Info("cleanup sweep completed",
				slog.String("target", s.name),
				slog.Int64("rows_deleted", deleted))
		}
	}

	var released int
	for _, p := range cm.pruners {
		released += p()
	}
	if released > 0 {
		cm.logger.Info("memory windows pruned", slog.Int("entries_released", released))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
