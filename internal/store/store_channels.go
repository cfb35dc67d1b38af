package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// NOTIFICATION CHANNELS
// =============================================================================

// ListNotificationChannels returns every enabled channel, for the
// dispatcher's routing pass.
func (s *Store) ListNotificationChannels(ctx context.Context) ([]types.NotificationChannel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, credential_ref, enabled, alert_types, severities, device_tags, created_at, updated_at
		FROM notification_channels WHERE enabled = true
	`)
	if err != nil {
		return nil, fmt.Errorf("list notification channels: %w", err)
	}
	defer rows.Close()

	var channels []types.NotificationChannel
	for rows.Next() {
		var c types.NotificationChannel
		var alertTypesJSON, severitiesJSON, tagsJSON []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CredentialRef, &c.Enabled,
			&alertTypesJSON, &severitiesJSON, &tagsJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if len(alertTypesJSON) > 0 {
			json.Unmarshal(alertTypesJSON, &c.AlertTypes)
		}
		if len(severitiesJSON) > 0 {
			json.Unmarshal(severitiesJSON, &c.Severities)
		}
		if len(tagsJSON) > 0 {
			json.Unmarshal(tagsJSON, &c.DeviceTags)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// UpsertNotificationChannel creates or updates a channel's routing config.
func (s *Store) UpsertNotificationChannel(ctx context.Context, c *types.NotificationChannel) error {
	alertTypesJSON, err := json.Marshal(c.AlertTypes)
	if err != nil {
		return fmt.Errorf("marshal alert types: %w", err)
	}
	severitiesJSON, err := json.Marshal(c.Severities)
	if err != nil {
		return fmt.Errorf("marshal severities: %w", err)
	}
	tagsJSON, err := json.Marshal(c.DeviceTags)
	if err != nil {
		return fmt.Errorf("marshal device tags: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_channels (
			id, name, type, credential_ref, enabled, alert_types, severities, device_tags, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			credential_ref = EXCLUDED.credential_ref,
			enabled = EXCLUDED.enabled,
			alert_types = EXCLUDED.alert_types,
			severities = EXCLUDED.severities,
			device_tags = EXCLUDED.device_tags,
			updated_at = NOW()
	`, c.ID, c.Name, c.Type, c.CredentialRef, c.Enabled, alertTypesJSON, severitiesJSON, tagsJSON)
	if err != nil {
		return fmt.Errorf("upsert notification channel %s: %w", c.ID, err)
	}
	return nil
}
