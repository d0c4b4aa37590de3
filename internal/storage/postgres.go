package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/config"
)

// Tx is the transaction handle shared by the repositories. Both the order
// and inventory repositories accept it, so a single transaction can span
// an order transition and its ledger side effects.
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implements Tx around a pgx transaction.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// Pgx exposes the underlying pgx transaction to the repositories.
func (t *PostgresTx) Pgx() pgx.Tx {
	return t.tx
}

// Begin starts a new transaction on the pool.
func Begin(ctx context.Context, pool *pgxpool.Pool) (Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

// NewPool builds a pgx connection pool and waits for the database to accept
// connections before returning.
func NewPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to database", zap.String("database", cfg.DBName))
			return pool, nil
		}
		logger.Debug("waiting for database", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// InitSchema creates the core tables. The CHECK constraint on
// stock_items.on_hand_quantity is the hard floor behind the application-level
// check-then-decrement: no code path may drive a quantity negative.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_items (
		tenant_id        TEXT NOT NULL,
		item_id          TEXT NOT NULL,
		on_hand_quantity INTEGER NOT NULL DEFAULT 0,
		retired_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, item_id),
		CHECK (on_hand_quantity >= 0)
	);

	CREATE TABLE IF NOT EXISTS customers (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS orders (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		customer_id   TEXT,
		status        TEXT NOT NULL,
		subtotal      BIGINT NOT NULL DEFAULT 0,
		cancel_reason TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id   TEXT NOT NULL REFERENCES orders(id),
		item_id    TEXT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		unit_price BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		order_id   TEXT NOT NULL,
		status     TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_pending_expiry
		ON reservations (expires_at) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_reservations_order
		ON reservations (tenant_id, order_id);

	CREATE TABLE IF NOT EXISTS reservation_items (
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		item_id        TEXT NOT NULL,
		quantity       INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (reservation_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS stock_movements (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		item_id         TEXT NOT NULL,
		order_id        TEXT,
		reservation_id  TEXT,
		change_quantity INTEGER NOT NULL,
		movement_type   TEXT NOT NULL,
		reason          TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_stock_movements_order
		ON stock_movements (order_id, movement_type);
	`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
