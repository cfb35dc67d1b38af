package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// SYSTEM SETTINGS
// =============================================================================

// GetSystemSettings reads the single-row settings table, falling back to
// types.DefaultSystemSettings if the row hasn't been seeded yet.
func (s *Store) GetSystemSettings(ctx context.Context) (types.SystemSettings, error) {
	var cfg types.SystemSettings
	var criticalSeconds, warningSeconds, hourlyAfterSeconds, defaultRepeatSeconds, defaultDurationSeconds int64

	err := s.pool.QueryRow(ctx, `
		SELECT offline_multiplier, critical_cadence_seconds, warning_cadence_seconds,
			warning_to_hourly_after_seconds, ssl_expiry_warning_days, ssl_expiry_critical_days,
			license_renewal_lead_days, default_repeat_seconds, default_duration_seconds, updated_at
		FROM system_settings WHERE id = 1
	`).Scan(&cfg.OfflineMultiplier, &criticalSeconds, &warningSeconds, &hourlyAfterSeconds,
		&cfg.SSLExpiryWarningDays, &cfg.SSLExpiryCriticalDays, &cfg.LicenseRenewalLeadDays,
		&defaultRepeatSeconds, &defaultDurationSeconds, &cfg.UpdatedAt)
	if err == pgx.ErrNoRows {
		return types.DefaultSystemSettings(), nil
	}
	if err != nil {
		return types.SystemSettings{}, fmt.Errorf("get system settings: %w", err)
	}

	cfg.CriticalCadence = secondsToDuration(criticalSeconds)
	cfg.WarningCadence = secondsToDuration(warningSeconds)
	cfg.WarningToHourlyAfter = secondsToDuration(hourlyAfterSeconds)
	cfg.DefaultRepeat = secondsToDuration(defaultRepeatSeconds)
	cfg.DefaultDuration = secondsToDuration(defaultDurationSeconds)
	return cfg, nil
}

// UpdateSystemSettings overwrites the single-row settings table.
func (s *Store) UpdateSystemSettings(ctx context.Context, cfg types.SystemSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (
			id, offline_multiplier, critical_cadence_seconds, warning_cadence_seconds,
			warning_to_hourly_after_seconds, ssl_expiry_warning_days, ssl_expiry_critical_days,
			license_renewal_lead_days, default_repeat_seconds, default_duration_seconds, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			offline_multiplier = EXCLUDED.offline_multiplier,
			critical_cadence_seconds = EXCLUDED.critical_cadence_seconds,
			warning_cadence_seconds = EXCLUDED.warning_cadence_seconds,
			warning_to_hourly_after_seconds = EXCLUDED.warning_to_hourly_after_seconds,
			ssl_expiry_warning_days = EXCLUDED.ssl_expiry_warning_days,
			ssl_expiry_critical_days = EXCLUDED.ssl_expiry_critical_days,
			license_renewal_lead_days = EXCLUDED.license_renewal_lead_days,
			default_repeat_seconds = EXCLUDED.default_repeat_seconds,
			default_duration_seconds = EXCLUDED.default_duration_seconds,
			updated_at = NOW()
	`, cfg.OfflineMultiplier, int64(cfg.CriticalCadence.Seconds()), int64(cfg.WarningCadence.Seconds()),
		int64(cfg.WarningToHourlyAfter.Seconds()), cfg.SSLExpiryWarningDays, cfg.SSLExpiryCriticalDays,
		cfg.LicenseRenewalLeadDays, int64(cfg.DefaultRepeat.Seconds()), int64(cfg.DefaultDuration.Seconds()))
	if err != nil {
		return fmt.Errorf("update system settings: %w", err)
	}
	return nil
}
