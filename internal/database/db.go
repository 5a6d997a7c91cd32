package database

import (
	"context"
	"fmt"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// migrations are applied in order on every start and must stay idempotent
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		signal_id UUID NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		side VARCHAR(8) NOT NULL,
		entry_price NUMERIC(24, 8) NOT NULL,
		quantity NUMERIC(24, 8) NOT NULL,
		amount NUMERIC(24, 8) NOT NULL,
		confidence INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		trade_source VARCHAR(16) NOT NULL DEFAULT 'automation',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS price_alerts (
		id BIGSERIAL PRIMARY KEY,
		trade_id BIGINT REFERENCES trades(id) ON DELETE CASCADE,
		user_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		alert_type VARCHAR(16) NOT NULL,
		condition VARCHAR(8) NOT NULL,
		target_price NUMERIC(24, 8) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_alerts_symbol_active ON price_alerts(symbol, active)`,

	`CREATE TABLE IF NOT EXISTS activity_log (
		id BIGSERIAL PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		action VARCHAR(32) NOT NULL,
		trigger VARCHAR(16) NOT NULL,
		recommendation VARCHAR(8),
		confidence INTEGER,
		reason TEXT,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_user_created ON activity_log(user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS automation_settings (
		user_id VARCHAR(64) PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		buy_threshold INTEGER NOT NULL,
		sell_threshold INTEGER NOT NULL,
		max_trades_per_day INTEGER NOT NULL,
		stop_loss_percent NUMERIC(8, 4) NOT NULL,
		take_profit_percent NUMERIC(8, 4) NOT NULL,
		trade_amount NUMERIC(24, 8) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "count", len(migrations))

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
