package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

// LoginFailureRepository is the durable mirror of the lockout guard's
// in-memory failure windows. In-memory state is authoritative; these rows
// exist for restart recovery and audit.
type LoginFailureRepository struct {
	db *database.DB
}

// NewLoginFailureRepository creates a new LoginFailureRepository
func NewLoginFailureRepository(db *database.DB) *LoginFailureRepository {
	return &LoginFailureRepository{db: db}
}

// Insert records one failed credential attempt.
func (r *LoginFailureRepository) Insert(ctx context.Context, username, ip string, at time.Time) error {
	query := `
		INSERT INTO login_failures (username, ip_address, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Pool.Exec(ctx, query, username, ip, at)
	return database.MapPostgresError(err)
}

// DeletePair removes every failure row for a (username, IP) pair. Called on
// a successful login so lockout state does not survive a clean success.
func (r *LoginFailureRepository) DeletePair(ctx context.Context, username, ip string) error {
	query := `DELETE FROM login_failures WHERE username = $1 AND ip_address = $2`

	_, err := r.db.Pool.Exec(ctx, query, username, ip)
	return database.MapPostgresError(err)
}

// ListSince returns failures recorded after the cutoff, oldest first. Used to
// rebuild the in-memory windows after a restart.
func (r *LoginFailureRepository) ListSince(ctx context.Context, since time.Time) ([]*models.LoginFailureRecord, error) {
	query := `
		SELECT id, username, ip_address, created_at
		FROM login_failures
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query login failures: %w", err)
	}
	defer rows.Close()

	records := make([]*models.LoginFailureRecord, 0)
	for rows.Next() {
		var rec models.LoginFailureRecord
		err := rows.Scan(&rec.ID, &rec.Username, &rec.IPAddress, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login failure row: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login failure rows: %w", err)
	}

	return records, nil
}

// DeleteOlderThan prunes failure rows beyond the largest lockout window.
func (r *LoginFailureRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_failures WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
