package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/bid-optimizer/internal/config"
	"go.uber.org/zap"
)

// PostgresDB wraps a pgx connection pool with convenience methods.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDB creates a new PostgreSQL connection pool.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
		zap.Int("max_conns", cfg.MaxConns),
	)

	return &PostgresDB{
		Pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("PostgreSQL connection pool closed")
	}
}

// Health checks if the database is reachable.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns idle, in-use and total connection counts.
func (db *PostgresDB) Stats() (idle, inUse, total int) {
	s := db.Pool.Stat()
	return int(s.IdleConns()), int(s.AcquiredConns()), int(s.TotalConns())
}

// schema creates the optimizer tables. ad_performance_daily is normally owned
// by the reporting pipeline; it is created here so a fresh database works.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ad_performance_daily (
		target_id        TEXT NOT NULL,
		target_kind      TEXT NOT NULL,
		campaign_id      TEXT NOT NULL,
		ad_group_id      TEXT NOT NULL DEFAULT '',
		market           TEXT NOT NULL DEFAULT '',
		source           TEXT NOT NULL DEFAULT '',
		report_date      DATE NOT NULL,
		clicks           BIGINT NOT NULL DEFAULT 0,
		cost             TEXT,
		sales            TEXT,
		orders           BIGINT NOT NULL DEFAULT 0,
		current_bid      TEXT,
		current_modifier TEXT,
		PRIMARY KEY (target_id, campaign_id, ad_group_id, report_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ad_performance_daily_date ON ad_performance_daily (report_date)`,
	`CREATE TABLE IF NOT EXISTS bid_change_history (
		id          UUID PRIMARY KEY,
		target_id   TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		ad_group_id TEXT NOT NULL DEFAULT '',
		market      TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		old_bid     NUMERIC(12,2) NOT NULL,
		new_bid     NUMERIC(12,2) NOT NULL,
		changed_at  DATE NOT NULL,
		origin      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (target_id, campaign_id, ad_group_id, changed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS optimizer_weights (
		market     TEXT PRIMARY KEY,
		t0         DOUBLE PRECISION NOT NULL,
		d30        DOUBLE PRECISION NOT NULL,
		d365       DOUBLE PRECISION NOT NULL,
		lifetime   DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_goals (
		campaign_id TEXT PRIMARY KEY,
		goal_ratio  DOUBLE PRECISION NOT NULL CHECK (goal_ratio > 0),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates missing tables.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	db.logger.Info("PostgreSQL schema ready", zap.Int("statements", len(schema)))
	return nil
}
