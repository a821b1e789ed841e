package repositories

import (
	"context"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepository is the store of record for refresh tokens. Tokens
// are single-use: the rotation that consumes one flips its used flag exactly
// once, and that flip is what makes concurrent rotation detectable.
type RefreshTokenRepository struct {
	db *database.DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository
func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a freshly issued refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, username, family_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		token.Token, token.Username, token.FamilyID,
		token.ExpiresAt, token.Used, token.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// Get returns a refresh token by its opaque id.
func (r *RefreshTokenRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT token, username, family_id, expires_at, used, created_at
		FROM refresh_tokens
		WHERE token = $1
	`

	var rt models.RefreshToken
	err := r.db.Pool.QueryRow(ctx, query, token).Scan(
		&rt.Token, &rt.Username, &rt.FamilyID, &rt.ExpiresAt, &rt.Used, &rt.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rt, nil
}

// Consume atomically marks the old token used and inserts its successor in
// one transaction. It returns models.ErrConflict when the old token was
// already consumed, which a concurrent rotation loses with: exactly one of
// two racing calls sees the flip succeed.
func (r *RefreshTokenRepository) Consume(ctx context.Context, oldToken string, next *models.RefreshToken) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET used = TRUE WHERE token = $1 AND used = FALSE`,
			oldToken,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrConflict
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO refresh_tokens (token, username, family_id, expires_at, used, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			next.Token, next.Username, next.FamilyID,
			next.ExpiresAt, next.Used, next.CreatedAt,
		)
		return database.MapPostgresError(err)
	})
}

// Delete removes a single refresh token.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return database.MapPostgresError(err)
}

// DeleteAllForUser revokes every refresh token belonging to a username, not
// just one family. Used on theft detection.
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, username string) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE username = $1`, username)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens past their expiry.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
