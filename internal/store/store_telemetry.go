package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// TELEMETRY
// =============================================================================

// GetLatestTelemetry returns the most recently flushed telemetry row for a
// device. At most one row exists per device per window, covering every module
// that reported within it (see internal/consolidator). The rule evaluator
// does not read through here; cmd/server hands it each consolidated window
// directly.
func (s *Store) GetLatestTelemetry(ctx context.Context, deviceID string) (*types.Telemetry, error) {
	var t types.Telemetry
	err := s.pool.QueryRow(ctx, `
		SELECT id, device_id, fields, extra, received_at, window_key
		FROM telemetry
		WHERE device_id = $1
		ORDER BY received_at DESC LIMIT 1
	`, deviceID).Scan(&t.ID, &t.DeviceID, &t.Fields, &t.Extra, &t.ReceivedAt, &t.WindowKey)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest telemetry for %s: %w", deviceID, err)
	}
	return &t, nil
}

// InsertTelemetry stores a single consolidated telemetry row directly,
// bypassing the write-behind buffer. Nothing in this repository calls it;
// cmd/server always writes telemetry through the buffer and its flusher.
func (s *Store) InsertTelemetry(ctx context.Context, t *types.Telemetry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry (id, device_id, fields, extra, received_at, window_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, window_key) DO NOTHING
	`, t.ID, t.DeviceID, t.Fields, t.Extra, t.ReceivedAt, t.WindowKey)
	if err != nil {
		return fmt.Errorf("insert telemetry for %s: %w", t.DeviceID, err)
	}
	return nil
}

// PruneTelemetry deletes telemetry rows older than the retention cutoff.
// cmd/server does not schedule it; nothing in this repository calls it.
func (s *Store) PruneTelemetry(ctx context.Context, olderThanDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM telemetry WHERE received_at < NOW() - ($1 || ' days')::interval
	`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("prune telemetry: %w", err)
	}
	return tag.RowsAffected(), nil
}
