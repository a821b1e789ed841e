package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

// BanStore defines the interface for ban persistence
type BanStore interface {
	Upsert(ctx context.Context, ban *models.BanRecord) error
	Get(ctx context.Context, ip string) (*models.BanRecord, error)
	Delete(ctx context.Context, ip string) error
	ListActive(ctx context.Context, now time.Time) ([]*models.BanRecord, error)
}

// BanService owns the ban ledger. The in-memory map is authoritative for
// request-path decisions; the durable store is a mirror consulted on cache
// misses and at warm start. Durable failures degrade to "not banned" on
// lookups and to a log line on writes.
type BanService struct {
	store        BanStore
	cfg          config.ThreatConfig
	logger       *slog.Logger
	writeTimeout time.Duration

	mu   sync.Mutex
	bans map[string]*models.BanRecord
	// offenses remembers how many bans each IP has served, active ban
	// included. It drives escalation and survives ban expiry.
	offenses map[string]int

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewBanService creates a new BanService
func NewBanService(store BanStore, cfg config.ThreatConfig, writeTimeout time.Duration, logger *slog.Logger) *BanService {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &BanService{
		store:        store,
		cfg:          cfg,
		logger:       logger,
		writeTimeout: writeTimeout,
		bans:         make(map[string]*models.BanRecord),
		offenses:     make(map[string]int),
		Clock:        time.Now,
	}
}

// WarmStart reloads active bans from the durable mirror so a restart does not
// release offenders early.
func (s *BanService) WarmStart(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	records, err := s.store.ListActive(ctx, s.Clock())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.bans[rec.IPAddress] = rec
		if rec.BanCount > s.offenses[rec.IPAddress] {
			s.offenses[rec.IPAddress] = rec.BanCount
		}
	}

	s.logger.Info("ban cache warmed", slog.Int("active_bans", len(records)))
	return nil
}

// IsBanned reports whether an IP is currently banned. The in-memory cache is
// checked first; a miss falls through to the durable store and repopulates
// the cache. Store errors degrade to not banned so a database outage cannot
// lock out all traffic.
func (s *BanService) IsBanned(ip string) (*models.BanRecord, bool) {
	now := s.Clock()

	s.mu.Lock()
	if rec, ok := s.bans[ip]; ok {
		if rec.Active(now) {
			out := *rec
			s.mu.Unlock()
			return &out, true
		}
		// Expired: release the slot but keep the offense count.
		if rec.BanCount > s.offenses[ip] {
			s.offenses[ip] = rec.BanCount
		}
		delete(s.bans, ip)
		s.mu.Unlock()
		return nil, false
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	rec, err := s.store.Get(ctx, ip)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("ban lookup failed, treating as not banned",
				slog.String("ip_address", ip), slog.Any("error", err))
		}
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.BanCount > s.offenses[ip] {
		s.offenses[ip] = rec.BanCount
	}
	if !rec.Active(now) {
		return nil, false
	}
	s.bans[ip] = rec
	out := *rec
	return &out, true
}

// Ban suspends an IP. CRITICAL severity uses the severe base duration,
// anything else the standard one; each prior ban for the same IP doubles the
// duration, capped at the configured maximum.
func (s *BanService) Ban(ip, reason string, severity models.Severity) *models.BanRecord {
	now := s.Clock()

	base := s.cfg.BanDuration
	if severity == models.SeverityCritical {
		base = s.cfg.BanDurationSevere
	}

	s.mu.Lock()
	prior := s.offenses[ip]
	if active, ok := s.bans[ip]; ok && active.BanCount > prior {
		prior = active.BanCount
	}

	duration := base
	for i := 0; i < prior && duration < s.cfg.BanDurationCap; i++ {
		duration *= 2
	}
	if duration > s.cfg.BanDurationCap {
		duration = s.cfg.BanDurationCap
	}

	rec := &models.BanRecord{
		IPAddress: ip,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
		BanCount:  prior + 1,
	}
	s.bans[ip] = rec
	s.offenses[ip] = rec.BanCount
	out := *rec
	s.mu.Unlock()

	s.logger.Warn("IP banned",
		slog.String("ip_address", ip),
		slog.String("reason", reason),
		slog.String("severity", string(severity)),
		slog.Duration("duration", duration),
		slog.Int("ban_count", rec.BanCount))

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if err := s.store.Upsert(ctx, rec); err != nil {
			s.logger.Error("failed to persist ban",
				slog.String("ip_address", ip), slog.Any("error", err))
		}
	}

	return &out
}

// Unban releases an IP before its ban expires. Unbanning an IP that is not
// banned is a no-op. The offense count is kept: a manual release does not
// reset escalation.
func (s *BanService) Unban(ctx context.Context, ip string) error {
	s.mu.Lock()
	if rec, ok := s.bans[ip]; ok {
		if rec.BanCount > s.offenses[ip] {
			s.offenses[ip] = rec.BanCount
		}
		delete(s.bans, ip)
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, ip); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	s.logger.Info("IP unbanned", slog.String("ip_address", ip))
	return nil
}

// ListActive returns currently active bans, newest expiry first, from the
// authoritative in-memory state.
func (s *BanService) ListActive() []*models.BanRecord {
	now := s.Clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.BanRecord, 0, len(s.bans))
	for _, rec := range s.bans {
		if rec.Active(now) {
			c := *rec
			out = append(out, &c)
		}
	}
	return out
}

// Sweep drops expired entries from the cache, folding their counts into the
// offense ledger. Called by the background cleanup loop.
func (s *BanService) Sweep() int {
	now := s.Clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for ip, rec := range s.bans {
		if !rec.Active(now) {
			if rec.BanCount > s.offenses[ip] {
				s.offenses[ip] = rec.BanCount
			}
			delete(s.bans, ip)
			removed++
		}
	}
	return removed
}
