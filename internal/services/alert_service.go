package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

// AlertStore defines the interface for alert persistence
type AlertStore interface {
	Insert(ctx context.Context, event *models.AlertEvent) error
	ListRecent(ctx context.Context, limit int) ([]*models.AlertEvent, error)
}

// AlertService records detection decisions. Each event goes to the security
// log and, best effort, to the durable alert table. A failed insert never
// fails the caller: detection decisions are made in memory and the alert
// trail is an audit artifact, not an input.
type AlertService struct {
	store        AlertStore
	logger       *slog.Logger
	writeTimeout time.Duration

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewAlertService creates a new AlertService
func NewAlertService(store AlertStore, writeTimeout time.Duration, logger *slog.Logger) *AlertService {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &AlertService{
		store:        store,
		logger:       logger,
		writeTimeout: writeTimeout,
		Clock:        time.Now,
	}
}

// Record logs and persists one detection event. Callers must not hold any
// window or ban lock when calling: the durable write can block up to the
// write timeout.
func (s *AlertService) Record(ip, attackType string, severity models.Severity, detail string, blocked bool) {
	event := &models.AlertEvent{
		IPAddress:  ip,
		AttackType: attackType,
		Severity:   severity,
		Detail:     detail,
		Blocked:    blocked,
		CreatedAt:  s.Clock(),
	}

	attrs := []any{
		slog.String("ip_address", ip),
		slog.String("attack_type", attackType),
		slog.String("severity", string(severity)),
		slog.String("detail", detail),
		slog.Bool("blocked", blocked),
	}
	switch severity {
	case models.SeverityCritical:
		s.logger.Error("intrusion detected", attrs...)
	case models.SeverityHigh:
		s.logger.Warn("intrusion detected", attrs...)
	default:
		s.logger.Info("suspicious activity", attrs...)
	}

	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, event); err != nil {
		s.logger.Error("failed to persist alert event",
			slog.String("ip_address", ip),
			slog.String("attack_type", attackType),
			slog.Any("error", err))
	}
}

// ListRecent returns the newest alert events for the admin surface.
func (s *AlertService) ListRecent(ctx context.Context, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListRecent(ctx, limit)
}
