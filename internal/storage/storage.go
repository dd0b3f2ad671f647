// Package storage is the read-only history store adapter: the only part of
// the engine that touches persisted permit station events.
//
// Two backends share one query surface: PostgreSQL via pgxpool for the
// production history store, and SQLite (modernc, cgo-free) for local
// fixture stores. The engine treats both as read-only and safe for
// unbounded concurrent reads; durability and schema migration of the
// production store belong to its owner, not to this module. The bundled
// migration runner exists for integration tests and local fixtures only.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a single requested entity does not exist.
// Note FetchTrajectories never returns it: an empty match is an empty slice.
var ErrNotFound = errors.New("storage: not found")

// DB wraps a pgxpool.Pool over the permit event history.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close shuts down the connection pool.
func (db *DB) Close() { db.pool.Close() }
