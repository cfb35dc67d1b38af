package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// DEVICE MODULE ACTIVITY
// =============================================================================

// RecordModuleActivity stamps the last time deviceID's module successfully
// delivered a metrics payload. Called from the MQTT ingress router on every
// raw metrics message, independent of telemetry consolidation, so staleness
// detection sees the payload arrival even before its window flushes.
func (s *Store) RecordModuleActivity(ctx context.Context, deviceID string, module types.Module, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_module_activity (device_id, module, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, module) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
		WHERE device_module_activity.last_seen_at < EXCLUDED.last_seen_at
	`, deviceID, module, at)
	if err != nil {
		return fmt.Errorf("record module activity for %s/%s: %w", deviceID, module, err)
	}
	return nil
}

// ListModuleActivityForOnlineDevices returns the per-module last-seen
// timestamps for every device that isn't paused and isn't already offline,
// for the heartbeat staleness scanner. An offline device's modules are
// necessarily silent too and already covered by the offline alert, so they
// are excluded here to avoid a redundant service_down alongside it.
func (s *Store) ListModuleActivityForOnlineDevices(ctx context.Context) ([]types.ModuleActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.device_id, a.module, a.last_seen_at
		FROM device_module_activity a
		JOIN devices d ON d.id = a.device_id
		WHERE d.paused = false AND d.monitoring_state != 'offline'
	`)
	if err != nil {
		return nil, fmt.Errorf("list module activity for online devices: %w", err)
	}
	defer rows.Close()

	var activity []types.ModuleActivity
	for rows.Next() {
		var a types.ModuleActivity
		if err := rows.Scan(&a.DeviceID, &a.Module, &a.LastSeenAt); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}
