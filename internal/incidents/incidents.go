// Package incidents folds related alerts into a single incident record, one
// open incident per (target type, target ID, summary). The fleet digest does
// not read incidents; it lists active alerts one line each.
package incidents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface this package depends on.
type Store interface {
	EnsureIncidentOpen(ctx context.Context, inc *types.Incident) (string, error)
	ResolveIncident(ctx context.Context, incidentID string) error
	ListActiveAlertsForDevice(ctx context.Context, deviceID string) ([]types.AlertTracking, error)
}

// Aggregator opens and closes incidents as alerts on the same target open and
// resolve.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

// New creates an Aggregator.
func New(store Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger.With("component", "incidents")}
}

// OnAlertOpened folds a newly opened alert into the open incident for its
// target, creating one if none is active. internal/alerting calls it only
// when an alert opens; escalating an already-open alert does not update its
// incident.
func (a *Aggregator) OnAlertOpened(ctx context.Context, alert *types.AlertTracking) (string, error) {
	targetType := alert.TargetType
	if targetType == "" {
		targetType = "device"
	}

	summary := fmt.Sprintf("%s issues on %s", alert.AlertType, alert.DeviceID)
	switch {
	case alert.SpecificService != "" && alert.SpecificEndpoint != "":
		summary = fmt.Sprintf("%s issues on %s (%s, %s)", alert.AlertType, alert.DeviceID, alert.SpecificService, alert.SpecificEndpoint)
	case alert.SpecificService != "":
		summary = fmt.Sprintf("%s issues on %s (%s)", alert.AlertType, alert.DeviceID, alert.SpecificService)
	case alert.SpecificEndpoint != "":
		summary = fmt.Sprintf("%s issues on %s (%s)", alert.AlertType, alert.DeviceID, alert.SpecificEndpoint)
	}

	inc := &types.Incident{
		TargetType: targetType,
		TargetID:   alert.DeviceID,
		Summary:    summary,
		Severity:   alert.CurrentSeverity,
		AlertIDs:   []string{alert.ID},
	}
	id, err := a.store.EnsureIncidentOpen(ctx, inc)
	if err != nil {
		return "", fmt.Errorf("ensure incident open for alert %s: %w", alert.ID, err)
	}
	return id, nil
}

// EnsureTargetIncident opens or reuses an incident for a target that isn't
// itself an alert (e.g. a license renewal deadline), so license escalations
// are recorded in the same incidents table as device/synthetic ones.
func (a *Aggregator) EnsureTargetIncident(ctx context.Context, targetType, targetID, summary string, severity types.AlertSeverity) (string, error) {
	inc := &types.Incident{
		TargetType: targetType,
		TargetID:   targetID,
		Summary:    summary,
		Severity:   severity,
	}
	id, err := a.store.EnsureIncidentOpen(ctx, inc)
	if err != nil {
		return "", fmt.Errorf("ensure incident open for %s %s: %w", targetType, targetID, err)
	}
	return id, nil
}

// ResolveTargetIncident closes an incident opened via EnsureTargetIncident
// directly, without the active-alerts check OnAlertResolved does, since a
// license asset's state transition back to ok has no alert rows to consult.
func (a *Aggregator) ResolveTargetIncident(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return nil
	}
	if err := a.store.ResolveIncident(ctx, incidentID); err != nil {
		return fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}
	return nil
}

// OnAlertResolved closes the device's incident once no alert remains active
// against it.
func (a *Aggregator) OnAlertResolved(ctx context.Context, deviceID, incidentID string) error {
	if incidentID == "" {
		return nil
	}
	remaining, err := a.store.ListActiveAlertsForDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("list active alerts for %s: %w", deviceID, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	if err := a.store.ResolveIncident(ctx, incidentID); err != nil {
		return fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}
	return nil
}
