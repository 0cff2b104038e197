package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/prompted/mqs/internal/config"
)

// Migrate brings the queues and messages tables up to the latest schema
// version. The server must not start on a dirty or failed migration — a
// partially applied schema would silently break the claim and dedup paths.
func Migrate(cfg config.Server, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		slog.Info("schema up to date")
		return nil
	case err != nil:
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	slog.Info("schema migrated", "version", version)
	return nil
}
