package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			trade_id VARCHAR(64) NOT NULL UNIQUE,
			user_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			contract_type VARCHAR(16) NOT NULL,
			action VARCHAR(16) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8),
			exit_price DECIMAL(20, 8),
			payout DECIMAL(20, 8),
			status VARCHAR(16) NOT NULL DEFAULT 'open',
			contract_id VARCHAR(64),
			proposal_id VARCHAR(64),
			transaction_id VARCHAR(64),
			pnl DECIMAL(20, 8) DEFAULT 0,
			pnl_percent DECIMAL(10, 4) DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_contract ON trades(contract_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,

		`CREATE TABLE IF NOT EXISTS bot_configs (
			user_id VARCHAR(64) PRIMARY KEY,
			symbols TEXT[] NOT NULL DEFAULT '{}',
			amount_per_trade DECIMAL(20, 8) DEFAULT 10,
			candle_count INT DEFAULT 100,
			cycle_interval_seconds INT DEFAULT 30,
			max_trades_per_cycle INT DEFAULT 0,
			daily_trade_limit INT DEFAULT 0,
			take_profit DECIMAL(20, 8) DEFAULT 0,
			stop_loss DECIMAL(20, 8) DEFAULT 0,
			min_signal_gap_minutes INT DEFAULT 0,
			deriv_demo_token VARCHAR(128),
			deriv_real_token VARCHAR(128),
			account_type VARCHAR(8) DEFAULT 'demo',
			subscription_tier VARCHAR(16) DEFAULT 'free',
			execution_mode VARCHAR(16) DEFAULT 'auto',
			strategy_mode VARCHAR(24) DEFAULT 'supply_demand',
			has_taken_first_trade BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bot_status (
			user_id VARCHAR(64) PRIMARY KEY,
			is_running BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ,
			stopped_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			title VARCHAR(128) NOT NULL,
			message TEXT NOT NULL,
			type VARCHAR(16) NOT NULL DEFAULT 'info',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Repository provides data access on top of DB
type Repository struct {
	db *DB
}

// NewRepository creates a repository backed by db
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}
