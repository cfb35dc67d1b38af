package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// DEVICES
// =============================================================================

// GetDevice retrieves a device by ID. Returns nil, nil if not found.
func (s *Store) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	var d types.Device
	var tagsJSON []byte
	var lastSeenAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, hostname, tags, module, public_ip,
			expected_message_interval_seconds, monitoring_state, state_changed_at,
			last_seen_at, paused, created_at, updated_at,
			offline_threshold_multiplier, repeat_interval_minutes,
			throttling_duration_minutes, sip_rtt_threshold_ms
		FROM devices WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Name, &d.Hostname, &tagsJSON, &d.Module, &d.PublicIP,
		&d.ExpectedMessageIntervalSeconds, &d.MonitoringState, &d.StateChangedAt,
		&lastSeenAt, &d.Paused, &d.CreatedAt, &d.UpdatedAt,
		&d.OfflineThresholdMultiplier, &d.RepeatIntervalMinutes,
		&d.ThrottlingDurationMinutes, &d.SIPRTTThresholdMs,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}

	if len(tagsJSON) > 0 {
		json.Unmarshal(tagsJSON, &d.Tags)
	}
	d.LastSeenAt = lastSeenAt

	history, err := s.getHeartbeatHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	d.LastSeenHistory = history

	return &d, nil
}

// UpsertDevice creates or updates a device record (seen on first telemetry).
func (s *Store) UpsertDevice(ctx context.Context, d *types.Device) error {
	tagsJSON, err := json.Marshal(d.Tags)
	if err != nil {
		return fmt.Errorf("marshal device tags: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (
			id, name, hostname, tags, module, public_ip,
			expected_message_interval_seconds, monitoring_state, state_changed_at,
			paused, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			hostname = COALESCE(NULLIF(EXCLUDED.hostname, ''), devices.hostname),
			public_ip = COALESCE(NULLIF(EXCLUDED.public_ip, ''), devices.public_ip),
			updated_at = NOW()
	`, d.ID, d.Name, d.Hostname, tagsJSON, d.Module, d.PublicIP,
		d.ExpectedMessageIntervalSeconds, types.StateUnknown, d.Paused)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.ID, err)
	}
	return nil
}

// ListDevices returns all non-paused devices, used by the offline scanner
// and rule evaluator's bulk sweeps.
func (s *Store) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, hostname, module, expected_message_interval_seconds,
			monitoring_state, state_changed_at, last_seen_at, paused,
			offline_threshold_multiplier, repeat_interval_minutes,
			throttling_duration_minutes, sip_rtt_threshold_ms
		FROM devices
		WHERE paused = false
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		var lastSeenAt *time.Time
		if err := rows.Scan(&d.ID, &d.Name, &d.Hostname, &d.Module,
			&d.ExpectedMessageIntervalSeconds, &d.MonitoringState, &d.StateChangedAt,
			&lastSeenAt, &d.Paused,
			&d.OfflineThresholdMultiplier, &d.RepeatIntervalMinutes,
			&d.ThrottlingDurationMinutes, &d.SIPRTTThresholdMs); err != nil {
			return nil, err
		}
		d.LastSeenAt = lastSeenAt
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// RecordHeartbeat appends a heartbeat timestamp to the device's rolling
// window (bounded at config.HeartbeatWindowSize) and stamps last_seen_at.
func (s *Store) RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE devices SET last_seen_at = $2, updated_at = NOW() WHERE id = $1
	`, deviceID, at); err != nil {
		return fmt.Errorf("update last_seen_at: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO device_heartbeats (device_id, seen_at) VALUES ($1, $2)
	`, deviceID, at); err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM device_heartbeats
		WHERE device_id = $1 AND seen_at NOT IN (
			SELECT seen_at FROM device_heartbeats
			WHERE device_id = $1 ORDER BY seen_at DESC LIMIT $2
		)
	`, deviceID, config.HeartbeatWindowSize); err != nil {
		return fmt.Errorf("trim heartbeat window: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) getHeartbeatHistory(ctx context.Context, deviceID string) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seen_at FROM device_heartbeats
		WHERE device_id = $1 ORDER BY seen_at ASC LIMIT $2
	`, deviceID, config.HeartbeatWindowSize)
	if err != nil {
		return nil, fmt.Errorf("get heartbeat history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var history []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

// TransitionDeviceState changes a device's monitoring state and timestamps
// the change.
func (s *Store) TransitionDeviceState(ctx context.Context, deviceID string, newState types.MonitoringState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices SET monitoring_state = $2, state_changed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, deviceID, newState)
	if err != nil {
		return fmt.Errorf("transition device %s to %s: %w", deviceID, newState, err)
	}
	return nil
}

// GetDevicesPastOfflineThreshold returns ONLINE/UNKNOWN devices whose
// last_seen_at is older than their own computed offline threshold
// (expected_message_interval_seconds * multiplier).
func (s *Store) GetDevicesPastOfflineThreshold(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, expected_message_interval_seconds, monitoring_state, last_seen_at,
			offline_threshold_multiplier, repeat_interval_minutes,
			throttling_duration_minutes, sip_rtt_threshold_ms
		FROM devices
		WHERE paused = false
		  AND monitoring_state != 'offline'
		  AND last_seen_at IS NOT NULL
		  AND $2 - last_seen_at > (expected_message_interval_seconds || ' seconds')::interval * COALESCE(offline_threshold_multiplier, $1)
	`, multiplier, now)
	if err != nil {
		return nil, fmt.Errorf("get devices past offline threshold: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		var lastSeenAt *time.Time
		if err := rows.Scan(&d.ID, &d.Name, &d.ExpectedMessageIntervalSeconds, &d.MonitoringState, &lastSeenAt,
			&d.OfflineThresholdMultiplier, &d.RepeatIntervalMinutes,
			&d.ThrottlingDurationMinutes, &d.SIPRTTThresholdMs); err != nil {
			return nil, err
		}
		d.LastSeenAt = lastSeenAt
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetRecoveredDevices returns OFFLINE devices whose last_seen_at now falls
// back within threshold (a heartbeat arrived during the offline window).
func (s *Store) GetRecoveredDevices(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, expected_message_interval_seconds, monitoring_state, last_seen_at,
			offline_threshold_multiplier, repeat_interval_minutes,
			throttling_duration_minutes, sip_rtt_threshold_ms
		FROM devices
		WHERE monitoring_state = 'offline'
		  AND last_seen_at IS NOT NULL
		  AND $2 - last_seen_at <= (expected_message_interval_seconds || ' seconds')::interval * COALESCE(offline_threshold_multiplier, $1)
	`, multiplier, now)
	if err != nil {
		return nil, fmt.Errorf("get recovered devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		var lastSeenAt *time.Time
		if err := rows.Scan(&d.ID, &d.Name, &d.ExpectedMessageIntervalSeconds, &d.MonitoringState, &lastSeenAt,
			&d.OfflineThresholdMultiplier, &d.RepeatIntervalMinutes,
			&d.ThrottlingDurationMinutes, &d.SIPRTTThresholdMs); err != nil {
			return nil, err
		}
		d.LastSeenAt = lastSeenAt
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// =============================================================================
// MONITORING CHECKS (RULES)
// =============================================================================

// ListChecksForDevice returns every enabled rule for a device across all
// modules: since a single Telemetry row now covers every module reported in
// a window (see pkg/types.Telemetry), the evaluator dispatches each check by
// its own CheckType rather than the caller pre-filtering by module.
func (s *Store) ListChecksForDevice(ctx context.Context, deviceID string) ([]types.MonitoringCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, module, check_type, specific_service,
			warning_threshold, critical_threshold, enabled, created_at, updated_at
		FROM monitoring_checks
		WHERE device_id = $1 AND enabled = true
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list checks for device %s: %w", deviceID, err)
	}
	defer rows.Close()

	var checks []types.MonitoringCheck
	for rows.Next() {
		var c types.MonitoringCheck
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Module, &c.CheckType, &c.ServiceRef,
			&c.WarningThreshold, &c.CriticalThreshold, &c.Enabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// UpsertCheck creates or updates a monitoring check definition.
func (s *Store) UpsertCheck(ctx context.Context, c *types.MonitoringCheck) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitoring_checks (
			id, device_id, module, check_type, specific_service,
			warning_threshold, critical_threshold, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			warning_threshold = EXCLUDED.warning_threshold,
			critical_threshold = EXCLUDED.critical_threshold,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`, c.ID, c.DeviceID, c.Module, c.CheckType, c.ServiceRef,
		c.WarningThreshold, c.CriticalThreshold, c.Enabled)
	if err != nil {
		return fmt.Errorf("upsert check %s: %w", c.ID, err)
	}
	return nil
}
