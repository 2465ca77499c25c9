package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"pagerouter/migrations"
)

// maxLedgerConns bounds the pool; ledger writes are small and asynchronous.
const maxLedgerConns = 8

// DB is the attribution ledger. A nil *DB means the ledger is disabled.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects to the ledger database and verifies it is reachable.
func New(ctx context.Context, connString string) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	if poolCfg.MaxConns > maxLedgerConns {
		poolCfg.MaxConns = maxLedgerConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// RunMigrations applies the embedded ledger migrations.
func (d *DB) RunMigrations(connString string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable. A nil DB reports ErrNoLedger.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.Pool == nil {
		return ErrNoLedger
	}
	return d.Pool.Ping(ctx)
}

// Close releases the pool. Safe on a nil DB.
func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}
