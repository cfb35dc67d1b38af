package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// ALERT TRACKING
// =============================================================================

// GetActiveAlert looks up the single non-resolved AlertTracking row for an
// active key, if one exists. Callers use this before deciding whether to
// open a new alert or escalate an existing one.
func (s *Store) GetActiveAlert(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) (*types.AlertTracking, error) {
	var a types.AlertTracking
	err := s.pool.QueryRow(ctx, `
		SELECT id, device_id, alert_type, specific_service, specific_endpoint, state,
			initial_severity, peak_severity, current_severity, title, message,
			notification_count, last_notified_at, next_eligible_at,
			triggered_at, updated_at, resolved_at, incident_id, recovery_bundle_key,
			target_type, repeat_minutes, throttle_duration_minutes
		FROM alert_tracking
		WHERE device_id = $1 AND alert_type = $2 AND specific_service = $3 AND specific_endpoint = $4
		  AND state != 'resolved'
	`, deviceID, alertType, specificService, specificEndpoint).Scan(
		&a.ID, &a.DeviceID, &a.AlertType, &a.SpecificService, &a.SpecificEndpoint, &a.State,
		&a.InitialSeverity, &a.PeakSeverity, &a.CurrentSeverity, &a.Title, &a.Message,
		&a.NotificationCount, &a.LastNotifiedAt, &a.NextEligibleAt,
		&a.TriggeredAt, &a.UpdatedAt, &a.ResolvedAt, &a.IncidentID, &a.RecoveryBundleKey,
		&a.TargetType, &a.RepeatMinutes, &a.ThrottleDurationMinutes,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active alert: %w", err)
	}
	return &a, nil
}

// CreateAlert inserts a new AlertTracking row. A partial unique index on
// (device_id, alert_type, specific_service, specific_endpoint) WHERE state
// != 'resolved' enforces the active-key invariant at the database level;
// callers should hold the per-active-key distributed lock (see
// internal/cache.Lock) around the check-then-create sequence to avoid racing
// two ingest workers into a duplicate insert attempt.
func (s *Store) CreateAlert(ctx context.Context, a *types.AlertTracking) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alert_tracking (
			id, device_id, alert_type, specific_service, specific_endpoint, state,
			initial_severity, peak_severity, current_severity, title, message,
			notification_count, last_notified_at, next_eligible_at,
			triggered_at, updated_at, incident_id, recovery_bundle_key,
			target_type, repeat_minutes, throttle_duration_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7, $8, $9, 0, NULL, $10, NOW(), NOW(), $11, '', $12, $13, $14)
		ON CONFLICT (device_id, alert_type, specific_service, specific_endpoint) WHERE state != 'resolved' DO NOTHING
	`, a.ID, a.DeviceID, a.AlertType, a.SpecificService, a.SpecificEndpoint, types.AlertStateNew,
		a.InitialSeverity, a.Title, a.Message, a.NextEligibleAt, a.IncidentID,
		a.TargetType, a.RepeatMinutes, a.ThrottleDurationMinutes)
	if err != nil {
		return false, fmt.Errorf("create alert for %s: %w", a.ActiveKey(), err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := s.recordAlertEvent(ctx, a.ID, "created", nil, &a.InitialSeverity, a.Message); err != nil {
		return true, err
	}
	return true, nil
}

// LinkAlertToIncident stamps an alert row with the incident it was folded
// into, so the alert row's incident_id shows the correlation.
func (s *Store) LinkAlertToIncident(ctx context.Context, alertID, incidentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_tracking SET incident_id = $2, updated_at = NOW() WHERE id = $1
	`, alertID, incidentID)
	if err != nil {
		return fmt.Errorf("link alert %s to incident %s: %w", alertID, incidentID, err)
	}
	return nil
}

// EscalateAlert raises an alert's current/peak severity and logs the
// transition. newSeverity must be strictly greater than the row's current
// severity; callers are expected to have already checked this.
func (s *Store) EscalateAlert(ctx context.Context, alertID string, oldSeverity, newSeverity types.AlertSeverity) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_tracking
		SET current_severity = $2,
			peak_severity = GREATEST(peak_severity, $2),
			updated_at = NOW()
		WHERE id = $1
	`, alertID, newSeverity)
	if err != nil {
		return fmt.Errorf("escalate alert %s: %w", alertID, err)
	}
	return s.recordAlertEvent(ctx, alertID, "escalated", &oldSeverity, &newSeverity, "")
}

// RecordNotification stamps an alert as having been notified, advancing its
// throttle window and bumping the notification counter and state.
func (s *Store) RecordNotification(ctx context.Context, alertID string, notifiedAt time.Time, nextEligibleAt *time.Time, newState types.AlertState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_tracking
		SET last_notified_at = $2,
			next_eligible_at = $3,
			notification_count = notification_count + 1,
			state = $4,
			updated_at = NOW()
		WHERE id = $1
	`, alertID, notifiedAt, nextEligibleAt, newState)
	if err != nil {
		return fmt.Errorf("record notification for alert %s: %w", alertID, err)
	}
	return nil
}

// ResolveAlert marks an alert resolved and tags it with a recovery bundle
// key so a single "back online" digest can reference every alert that
// cleared together.
func (s *Store) ResolveAlert(ctx context.Context, alertID, recoveryBundleKey string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_tracking
		SET state = 'resolved', resolved_at = NOW(), updated_at = NOW(), recovery_bundle_key = $2
		WHERE id = $1
	`, alertID, recoveryBundleKey)
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", alertID, err)
	}
	return s.recordAlertEvent(ctx, alertID, "resolved", nil, nil, "")
}

// ListActiveAlertsForDevice returns every non-resolved alert for a device.
// The heartbeat recovery path picks the offline and service_down alerts out
// of it to resolve and bundle into one recovery notification, and the
// incident aggregator uses it to decide whether a device's incident can
// close.
func (s *Store) ListActiveAlertsForDevice(ctx context.Context, deviceID string) ([]types.AlertTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, alert_type, specific_service, specific_endpoint, state,
			initial_severity, peak_severity, current_severity, title, message,
			notification_count, last_notified_at, next_eligible_at,
			triggered_at, updated_at, resolved_at, incident_id, recovery_bundle_key,
			target_type, repeat_minutes, throttle_duration_minutes
		FROM alert_tracking
		WHERE device_id = $1 AND state != 'resolved'
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts for device %s: %w", deviceID, err)
	}
	defer rows.Close()

	var alerts []types.AlertTracking
	for rows.Next() {
		var a types.AlertTracking
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.AlertType, &a.SpecificService, &a.SpecificEndpoint, &a.State,
			&a.InitialSeverity, &a.PeakSeverity, &a.CurrentSeverity, &a.Title, &a.Message,
			&a.NotificationCount, &a.LastNotifiedAt, &a.NextEligibleAt,
			&a.TriggeredAt, &a.UpdatedAt, &a.ResolvedAt, &a.IncidentID, &a.RecoveryBundleKey,
			&a.TargetType, &a.RepeatMinutes, &a.ThrottleDurationMinutes); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListAlertsDueForNotification returns throttling/hourly_only alerts whose
// next_eligible_at has passed, for the throttle-queue sweep.
func (s *Store) ListAlertsDueForNotification(ctx context.Context) ([]types.AlertTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, alert_type, specific_service, specific_endpoint, state,
			initial_severity, peak_severity, current_severity, title, message,
			notification_count, last_notified_at, next_eligible_at,
			triggered_at, updated_at, resolved_at, incident_id, recovery_bundle_key,
			target_type, repeat_minutes, throttle_duration_minutes
		FROM alert_tracking
		WHERE state IN ('throttling', 'hourly_only')
		  AND next_eligible_at IS NOT NULL AND next_eligible_at <= NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("list alerts due for notification: %w", err)
	}
	defer rows.Close()

	var alerts []types.AlertTracking
	for rows.Next() {
		var a types.AlertTracking
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.AlertType, &a.SpecificService, &a.SpecificEndpoint, &a.State,
			&a.InitialSeverity, &a.PeakSeverity, &a.CurrentSeverity, &a.Title, &a.Message,
			&a.NotificationCount, &a.LastNotifiedAt, &a.NextEligibleAt,
			&a.TriggeredAt, &a.UpdatedAt, &a.ResolvedAt, &a.IncidentID, &a.RecoveryBundleKey,
			&a.TargetType, &a.RepeatMinutes, &a.ThrottleDurationMinutes); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListAlerts returns alerts matching the filter, for the fleet digest and
// any ad hoc review.
func (s *Store) ListAlerts(ctx context.Context, f types.AlertFilter) ([]types.AlertTracking, error) {
	query := `
		SELECT id, device_id, alert_type, specific_service, specific_endpoint, state,
			initial_severity, peak_severity, current_severity, title, message,
			notification_count, last_notified_at, next_eligible_at,
			triggered_at, updated_at, resolved_at, incident_id, recovery_bundle_key,
			target_type, repeat_minutes, throttle_duration_minutes
		FROM alert_tracking WHERE true`
	var args []interface{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if f.DeviceID != nil {
		query += " AND device_id = " + arg(*f.DeviceID)
	}
	if f.AlertType != nil {
		query += " AND alert_type = " + arg(*f.AlertType)
	}
	if f.State != nil {
		query += " AND state = " + arg(*f.State)
	}
	if f.Since != nil {
		query += " AND triggered_at >= " + arg(*f.Since)
	}
	query += " ORDER BY triggered_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.AlertTracking
	for rows.Next() {
		var a types.AlertTracking
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.AlertType, &a.SpecificService, &a.SpecificEndpoint, &a.State,
			&a.InitialSeverity, &a.PeakSeverity, &a.CurrentSeverity, &a.Title, &a.Message,
			&a.NotificationCount, &a.LastNotifiedAt, &a.NextEligibleAt,
			&a.TriggeredAt, &a.UpdatedAt, &a.ResolvedAt, &a.IncidentID, &a.RecoveryBundleKey,
			&a.TargetType, &a.RepeatMinutes, &a.ThrottleDurationMinutes); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *Store) recordAlertEvent(ctx context.Context, alertID, eventType string, oldSev, newSev *types.AlertSeverity, description string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (id, alert_id, event_type, old_severity, new_severity, description, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW())
	`, alertID, eventType, oldSev, newSev, description)
	if err != nil {
		return fmt.Errorf("record alert event for %s: %w", alertID, err)
	}
	return nil
}

// ListAlertEvents returns the audit trail for a single alert, oldest first.
func (s *Store) ListAlertEvents(ctx context.Context, alertID string) ([]types.AlertEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, alert_id, event_type, old_severity, new_severity, description, created_at
		FROM alert_events WHERE alert_id = $1 ORDER BY created_at ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list alert events for %s: %w", alertID, err)
	}
	defer rows.Close()

	var events []types.AlertEvent
	for rows.Next() {
		var e types.AlertEvent
		if err := rows.Scan(&e.ID, &e.AlertID, &e.EventType, &e.OldSeverity, &e.NewSeverity, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// INCIDENTS
// =============================================================================

// EnsureIncidentOpen finds or creates an open incident for the given key
// (target_type, target_id, summary), returning its ID. Used so that related
// alerts fold into a single incident record rather than each spawning its
// own.
func (s *Store) EnsureIncidentOpen(ctx context.Context, inc *types.Incident) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM incidents
		WHERE target_type = $1 AND target_id = $2 AND summary = $3 AND status = 'active'
	`, inc.TargetType, inc.TargetID, inc.Summary).Scan(&id)
	if err == nil {
		_, err := s.pool.Exec(ctx, `
			UPDATE incidents SET alert_ids = array_cat(alert_ids, $2), severity = GREATEST(severity::text, $3::text)::text, updated_at = NOW()
			WHERE id = $1
		`, id, inc.AlertIDs, inc.Severity)
		if err != nil {
			return "", fmt.Errorf("append to incident %s: %w", id, err)
		}
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("lookup open incident: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO incidents (id, target_type, target_id, summary, severity, alert_ids, status, detected_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'active', NOW(), NOW())
		RETURNING id
	`, inc.TargetType, inc.TargetID, inc.Summary, inc.Severity, inc.AlertIDs).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create incident for %s: %w", inc.Key(), err)
	}
	return id, nil
}

// ResolveIncident closes an incident once every alert it aggregates has
// resolved.
func (s *Store) ResolveIncident(ctx context.Context, incidentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE incidents SET status = 'resolved', resolved_at = NOW(), updated_at = NOW() WHERE id = $1
	`, incidentID)
	if err != nil {
		return fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}
	return nil
}

// ListActiveIncidents returns open incidents, newest first. The fleet digest
// does not call it.
func (s *Store) ListActiveIncidents(ctx context.Context) ([]types.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_type, target_id, summary, severity, alert_ids, status, detected_at, resolved_at, updated_at
		FROM incidents WHERE status = 'active' ORDER BY detected_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	defer rows.Close()

	var incidents []types.Incident
	for rows.Next() {
		var i types.Incident
		if err := rows.Scan(&i.ID, &i.TargetType, &i.TargetID, &i.Summary, &i.Severity, &i.AlertIDs, &i.Status, &i.DetectedAt, &i.ResolvedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}
