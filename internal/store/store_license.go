package store

import (
	"context"
	"fmt"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// LICENSE ASSETS
// =============================================================================

// ListLicenseAssets returns every tracked license asset, for the renewal
// state machine's periodic sweep and the fleet digest.
func (s *Store) ListLicenseAssets(ctx context.Context) ([]types.LicenseAsset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, device_id, renewal_date, state, last_notified_bucket, incident_id, created_at, updated_at
		FROM license_assets ORDER BY renewal_date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list license assets: %w", err)
	}
	defer rows.Close()

	var assets []types.LicenseAsset
	for rows.Next() {
		var a types.LicenseAsset
		if err := rows.Scan(&a.ID, &a.Name, &a.DeviceID, &a.RenewalDate, &a.State, &a.LastNotifiedBucket, &a.IncidentID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// UpdateLicenseState advances a license asset's state and reminder bucket
// bookkeeping, and records which incident (if any) now correlates its
// non-ok state.
func (s *Store) UpdateLicenseState(ctx context.Context, id string, state types.LicenseAssetState, lastNotifiedBucket string, incidentID *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE license_assets SET state = $2, last_notified_bucket = $3, incident_id = $4, updated_at = NOW() WHERE id = $1
	`, id, state, lastNotifiedBucket, incidentID)
	if err != nil {
		return fmt.Errorf("update license state for %s: %w", id, err)
	}
	return nil
}

// UpsertLicenseAsset creates or updates a license asset's renewal date,
// resetting its state machine when the renewal date moves out.
func (s *Store) UpsertLicenseAsset(ctx context.Context, a *types.LicenseAsset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO license_assets (id, name, device_id, renewal_date, state, last_notified_bucket, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			renewal_date = EXCLUDED.renewal_date,
			state = CASE WHEN license_assets.renewal_date != EXCLUDED.renewal_date THEN 'ok' ELSE license_assets.state END,
			last_notified_bucket = CASE WHEN license_assets.renewal_date != EXCLUDED.renewal_date THEN '' ELSE license_assets.last_notified_bucket END,
			updated_at = NOW()
	`, a.ID, a.Name, a.DeviceID, a.RenewalDate, a.State)
	if err != nil {
		return fmt.Errorf("upsert license asset %s: %w", a.ID, err)
	}
	return nil
}
