package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailvault/mailvault/internal/config"
	"github.com/mailvault/mailvault/migrations"
)

// NewConnection creates a new PostgreSQL connection pool with the given configuration.
func NewConnection(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbURL := cfg.GetDatabaseURL()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// CloseConnection closes the given database connection pool.
func CloseConnection(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// RunMigrations applies the embedded schema migrations in order. Every
// migration is idempotent, so running against an existing schema is a no-op.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range files {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.Name, err)
		}
	}

	return nil
}
