package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/jackc/pgx/v5"
)

// BanRepository is the durable mirror of the in-memory ban cache. The cache
// is authoritative for decisions; rows here survive restarts and feed the
// self-healing read path.
type BanRepository struct {
	db *database.DB
}

// NewBanRepository creates a new BanRepository
func NewBanRepository(db *database.DB) *BanRepository {
	return &BanRepository{db: db}
}

// Upsert writes a ban through to durable storage, replacing any previous ban
// for the same IP. The escalation count is decided by the caller and stored
// as-is.
func (r *BanRepository) Upsert(ctx context.Context, ban *models.BanRecord) error {
	query := `
		INSERT INTO ip_bans (ip_address, reason, started_at, expires_at, ban_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason = EXCLUDED.reason,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at,
			ban_count = EXCLUDED.ban_count
	`

	_, err := r.db.Pool.Exec(ctx, query,
		ban.IPAddress, ban.Reason, ban.StartedAt, ban.ExpiresAt, ban.BanCount,
	)
	return database.MapPostgresError(err)
}

// Get returns the ban row for an IP whether or not it is still active. The
// escalation count on an expired row still drives the next ban's duration.
func (r *BanRepository) Get(ctx context.Context, ip string) (*models.BanRecord, error) {
	query := `
		SELECT ip_address, reason, started_at, expires_at, ban_count
		FROM ip_bans
		WHERE ip_address = $1
	`

	var ban models.BanRecord
	err := r.db.Pool.QueryRow(ctx, query, ip).Scan(
		&ban.IPAddress, &ban.Reason, &ban.StartedAt, &ban.ExpiresAt, &ban.BanCount,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ban, nil
}

// GetActive returns the ban row for an IP only while it is in force.
func (r *BanRepository) GetActive(ctx context.Context, ip string, now time.Time) (*models.BanRecord, error) {
	query := `
		SELECT ip_address, reason, started_at, expires_at, ban_count
		FROM ip_bans
		WHERE ip_address = $1 AND expires_at > $2
	`

	var ban models.BanRecord
	err := r.db.Pool.QueryRow(ctx, query, ip, now).Scan(
		&ban.IPAddress, &ban.Reason, &ban.StartedAt, &ban.ExpiresAt, &ban.BanCount,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ban, nil
}

// Delete removes a ban row. Deleting an absent row is a no-op, so a manual
// release always succeeds.
func (r *BanRepository) Delete(ctx context.Context, ip string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM ip_bans WHERE ip_address = $1`, ip)
	return database.MapPostgresError(err)
}

// ListActive returns all bans still in force, soonest-expiring last.
func (r *BanRepository) ListActive(ctx context.Context, now time.Time) ([]*models.BanRecord, error) {
	query := `
		SELECT ip_address, reason, started_at, expires_at, ban_count
		FROM ip_bans
		WHERE expires_at > $1
		ORDER BY expires_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active bans: %w", err)
	}

	return scanBanRows(rows)
}

// DeleteExpired lazily removes rows whose expiry has passed.
func (r *BanRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM ip_bans WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func scanBanRows(rows pgx.Rows) ([]*models.BanRecord, error) {
	defer rows.Close()

	bans := make([]*models.BanRecord, 0)
	for rows.Next() {
		var ban models.BanRecord
		err := rows.Scan(&ban.IPAddress, &ban.Reason, &ban.StartedAt, &ban.ExpiresAt, &ban.BanCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban row: %w", err)
		}
		bans = append(bans, &ban)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ban rows: %w", err)
	}

	return bans, nil
}
