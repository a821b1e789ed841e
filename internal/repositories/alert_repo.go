package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

// AlertRepository persists detection decisions. The table is append-only;
// nothing in the core updates or deletes individual rows.
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert appends one alert event.
func (r *AlertRepository) Insert(ctx context.Context, alert *models.AlertEvent) error {
	query := `
		INSERT INTO ids_alerts (ip_address, attack_type, severity, detail, blocked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		alert.IPAddress, alert.AttackType, string(alert.Severity),
		alert.Detail, alert.Blocked, alert.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// ListRecent returns the newest alert events up to limit.
func (r *AlertRepository) ListRecent(ctx context.Context, limit int) ([]*models.AlertEvent, error) {
	query := `
		SELECT id, ip_address, attack_type, severity, detail, blocked, created_at
		FROM ids_alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.AlertEvent, 0)
	for rows.Next() {
		var alert models.AlertEvent
		err := rows.Scan(
			&alert.ID, &alert.IPAddress, &alert.AttackType,
			&alert.Severity, &alert.Detail, &alert.Blocked, &alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// CountByIP returns the number of alerts recorded for an IP since a cutoff.
func (r *AlertRepository) CountByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ids_alerts WHERE ip_address = $1 AND created_at >= $2`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ip, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// DeleteOlderThan prunes alert history beyond the retention horizon. This is
// operator housekeeping, not core behavior: the core itself never deletes.
func (r *AlertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM ids_alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
