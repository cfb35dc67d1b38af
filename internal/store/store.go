// Package store provides the Postgres-backed persistence layer for the
// control plane: devices, rules, telemetry, alert tracking, incidents,
// synthetic checks, license assets, and notification channels.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetwatch/control-plane/internal/config"
)

// Store wraps a pgx connection pool and exposes the control plane's
// persistence operations as plain methods, grouped into store_*.go files by
// domain area.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store from a Postgres connection string.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool, logger: logger.With("component", "store")}, nil
}

// Pool exposes the underlying pool, for the migration runner and the
// telemetry buffer's flusher.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// now is a small seam for stamping timestamps outside of NOW() SQL literals;
// no store method calls it, since every query uses the SQL clock so rows
// remain consistent under clock skew between replicas.
func now() time.Time { return time.Now().UTC() }
