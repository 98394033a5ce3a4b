package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
)

// DB manages the Postgres connection pool
type DB struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewDB opens a pool against the configured DSN and verifies connectivity
func NewDB(ctx context.Context, logger arbor.ILogger, config *common.PostgresConfig) (*DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	maxConns := config.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	if config.SimpleProtocol {
		// Required behind transaction-pooling bouncers
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Debug().
		Str("host", cfg.ConnConfig.Host).
		Str("database", cfg.ConnConfig.Database).
		Int("max_conns", maxConns).
		Msg("Postgres connection pool initialized")

	return &DB{
		pool:   pool,
		logger: logger,
		config: config,
	}, nil
}

// withTx runs fn in a transaction, rolling back on error
func (d *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close closes the pool
func (d *DB) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}
