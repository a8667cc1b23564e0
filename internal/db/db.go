package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool against dbURL and verifies connectivity.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the order table and its indexes if they do not exist.
// The amount-strategy matcher depends on the settlement amount index.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			trade_no TEXT PRIMARY KEY,
			out_trade_no TEXT NOT NULL,
			pid TEXT NOT NULL,
			pay_type TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			display_cents BIGINT NOT NULL,
			settlement_cents BIGINT NOT NULL,
			status SMALLINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			notify_url TEXT NOT NULL DEFAULT '',
			return_url TEXT NOT NULL DEFAULT '',
			UNIQUE (pid, out_trade_no)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_settlement ON orders (settlement_cents) WHERE status = 0`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
