package repositories

import (
	"context"

	"github.com/Nancyzolla/Groupe8-SI3/internal/database"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

// UserRepository handles database operations for user accounts
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT username, password_hash, totp_secret, role, active, must_change_password, created_at
		FROM users
		WHERE username = $1
	`

	var user models.User
	err := r.db.Pool.QueryRow(ctx, query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.TOTPSecret,
		&user.Role,
		&user.Active,
		&user.MustChangePassword,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

// Create inserts a new user account.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, password_hash, totp_secret, role, active, must_change_password, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		user.Username,
		user.PasswordHash,
		user.TOTPSecret,
		user.Role,
		user.Active,
		user.MustChangePassword,
		user.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// SetMustChangePassword flips the forced-rotation flag for a user.
func (r *UserRepository) SetMustChangePassword(ctx context.Context, username string, value bool) error {
	query := `UPDATE users SET must_change_password = $2 WHERE username = $1`

	result, err := r.db.Pool.Exec(ctx, query, username, value)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password hash and clears the forced
// rotation flag in one statement.
func (r *UserRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, must_change_password = FALSE
		WHERE username = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, username, passwordHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
