// Package db provides helpers for connecting to PostgreSQL and running migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/prompted/mqs/internal/config"
)

// Connect opens a connection pool to PostgreSQL and verifies connectivity.
// Pool bounds come from the server configuration: MAX_POOL_SIZE caps the open
// connections and MIN_POOL_SIZE caps the idle connections kept for reuse.
// database/sql keeps no minimum number of connections open, so MIN_POOL_SIZE
// is not a floor on the pool.
func Connect(ctx context.Context, cfg config.Server) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxPoolSize)
	db.SetMaxIdleConns(cfg.MinPoolSize)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	slog.Info("database connected",
		"dsn", redactDSN(cfg.DatabaseURL),
		"min_pool_size", cfg.MinPoolSize,
		"max_pool_size", cfg.MaxPoolSize,
	)
	return db, nil
}

// Healthy returns nil when a pooled connection can be acquired and a
// trivial statement executed end to end.
func Healthy(ctx context.Context, db *sql.DB) error {
	var response int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&response); err != nil {
		return fmt.Errorf("health query: %w", err)
	}
	if response != 1 {
		return fmt.Errorf("health query returned %d", response)
	}
	return nil
}

// redactDSN strips credentials from the DSN so it is safe to log.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "(unparseable dsn)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "x")
	}
	return u.Redacted()
}
