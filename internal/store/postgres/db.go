package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// DB owns the shared connection pool for the PostgreSQL stores.
type DB struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// Open connects to PostgreSQL and optionally applies migrations.
func Open(ctx context.Context, cfg *Config) (*DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres config is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	pool, err := NewPool(ctx, &cfg.PoolConfig, cfg.ConnectRetryMaxElapsed)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &DB{
		pool:         pool,
		queryTimeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
	}, nil
}

// Stores returns PostgreSQL implementations of every store sharing this pool.
func (d *DB) Stores() store.Stores {
	return store.Stores{
		Creators:      &CreatorStore{pool: d.pool, timeout: d.queryTimeout},
		Customers:     &CustomerStore{pool: d.pool, timeout: d.queryTimeout},
		AudioMessages: &AudioMessageStore{pool: d.pool, timeout: d.queryTimeout},
	}
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (d *DB) Close() {
	d.pool.Close()
}

// withTimeout applies the per-query timeout when one is configured.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
