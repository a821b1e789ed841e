package database

import (
	"embed"
	"fmt"
	"log/slog"

	// Registers the "postgres" database/sql driver used by goose.
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// EnsureSchema applies the embedded migrations. It runs once at startup,
// before the service accepts traffic, and is idempotent: goose skips
// migrations already recorded. The hot request path never touches schema
// management.
func EnsureSchema(dsn string, logger *slog.Logger) error {
	db, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return fmt.Errorf("unable to open migration connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close migration connection", slog.Any("error", err))
		}
	}()

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("unable to set migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	logger.Info("database schema is up to date")
	return nil
}
