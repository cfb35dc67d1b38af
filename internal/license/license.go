// Package license tracks software/hardware license renewal deadlines and
// escalates from ok to warning to critical to expired as a renewal date
// approaches, sending at most one reminder per state per bucket: one per day,
// or one per hour once the renewal date is a day or less away or has passed.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface this package depends on.
type Store interface {
	ListLicenseAssets(ctx context.Context) ([]types.LicenseAsset, error)
	UpdateLicenseState(ctx context.Context, id string, state types.LicenseAssetState, lastNotifiedBucket string, incidentID *string) error
	GetSystemSettings(ctx context.Context) (types.SystemSettings, error)
}

// Notifier sends a rendered reminder notification.
type Notifier interface {
	Send(ctx context.Context, n types.Notification) error
}

// IncidentTracker folds a license asset's escalation into the same incident
// aggregation every other alert target uses, so license deadlines are
// recorded alongside device/synthetic incidents.
type IncidentTracker interface {
	EnsureTargetIncident(ctx context.Context, targetType, targetID, summary string, severity types.AlertSeverity) (string, error)
	ResolveTargetIncident(ctx context.Context, incidentID string) error
}

// Monitor runs the license renewal sweep every config.LicenseScanInterval.
type Monitor struct {
	store     Store
	notifier  Notifier
	incidents IncidentTracker
	clock     clock.Clock
	logger    *slog.Logger

	stopCh chan struct{}
}

// New creates a Monitor.
func New(store Store, notifier Notifier, incidents IncidentTracker, clk clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		notifier:  notifier,
		incidents: incidents,
		clock:     clk,
		logger:    logger.With("component", "license"),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the sweep on config.LicenseScanInterval until ctx is cancelled
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go clock.RunTicker(ctx, m.clock, config.LicenseScanInterval, m.stopCh, m.sweep)
}

// Stop halts the sweep.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) sweep(ctx context.Context) {
	settings, err := m.store.GetSystemSettings(ctx)
	if err != nil {
		m.logger.Error("failed to load system settings for license sweep", "error", err)
		return
	}

	assets, err := m.store.ListLicenseAssets(ctx)
	if err != nil {
		m.logger.Error("failed to list license assets", "error", err)
		return
	}

	now := m.clock.Now()
	for _, a := range assets {
		if err := m.evaluate(ctx, a, settings, now); err != nil {
			m.logger.Error("failed to evaluate license asset", "asset_id", a.ID, "error", err)
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, a types.LicenseAsset, settings types.SystemSettings, now time.Time) error {
	daysLeft := int(a.RenewalDate.Sub(now).Hours() / 24)
	state := stateFor(daysLeft, settings.LicenseRenewalLeadDays)

	hourly := daysLeft <= 1
	bucket := m.clock.BucketKey(now, hourly)
	if state == a.State && a.LastNotifiedBucket == bucket {
		return nil
	}
	if state == types.LicenseStateOK {
		if a.State != types.LicenseStateOK {
			if m.incidents != nil && a.IncidentID != nil {
				if err := m.incidents.ResolveTargetIncident(ctx, *a.IncidentID); err != nil {
					m.logger.Error("failed to resolve license incident", "asset_id", a.ID, "error", err)
				}
			}
			return m.store.UpdateLicenseState(ctx, a.ID, state, "", nil)
		}
		return nil
	}

	title := fmt.Sprintf("license %s renews in %d days", a.Name, daysLeft)
	if daysLeft < 0 {
		title = fmt.Sprintf("license %s has expired", a.Name)
	}
	n := types.Notification{
		Kind:      types.KindAlert,
		Title:     title,
		Body:      fmt.Sprintf("renewal date: %s", a.RenewalDate.Format("2006-01-02")),
		Severity:  severityFor(state),
		AlertType: types.AlertLicense,
		DeviceID:  a.DeviceID,
		SentAt:    now,
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		m.logger.Error("failed to send license reminder", "asset_id", a.ID, "error", err)
	}

	incidentID := a.IncidentID
	if m.incidents != nil {
		id, err := m.incidents.EnsureTargetIncident(ctx, "license", a.ID, title, severityFor(state))
		if err != nil {
			m.logger.Error("failed to ensure license incident", "asset_id", a.ID, "error", err)
		} else {
			incidentID = &id
		}
	}

	return m.store.UpdateLicenseState(ctx, a.ID, state, bucket, incidentID)
}

// stateFor classifies days-until-renewal into the license lifecycle's closed
// state set. Critical is half the configured lead time; expired is past the
// renewal date entirely.
func stateFor(daysLeft int, leadDays int) types.LicenseAssetState {
	switch {
	case daysLeft < 0:
		return types.LicenseStateExpired
	case daysLeft <= leadDays/2:
		return types.LicenseStateCritical
	case daysLeft <= leadDays:
		return types.LicenseStateWarning
	default:
		return types.LicenseStateOK
	}
}

func severityFor(state types.LicenseAssetState) types.AlertSeverity {
	switch state {
	case types.LicenseStateExpired, types.LicenseStateCritical:
		return types.SeverityCritical
	case types.LicenseStateWarning:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}
