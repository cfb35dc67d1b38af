// Package heartbeat tracks each device's liveness: recording arrivals into a
// rolling window, detecting devices that have gone silent past their offline
// threshold, and bundling the alerts that clear when a device comes back. It
// also tracks per-module staleness independently of the device-level
// heartbeat, since a device can keep heartbeating (e.g. its system module
// still reports) while one specific module (e.g. asterisk) has stopped
// delivering metrics.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface heartbeat tracking depends on.
type Store interface {
	RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error
	GetDevice(ctx context.Context, id string) (*types.Device, error)
	TransitionDeviceState(ctx context.Context, deviceID string, newState types.MonitoringState) error
	GetDevicesPastOfflineThreshold(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error)
	GetRecoveredDevices(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error)
	ListActiveAlertsForDevice(ctx context.Context, deviceID string) ([]types.AlertTracking, error)
	ResolveAlert(ctx context.Context, alertID, recoveryBundleKey string) error
	GetSystemSettings(ctx context.Context) (types.SystemSettings, error)
	ListModuleActivityForOnlineDevices(ctx context.Context) ([]types.ModuleActivity, error)
}

// AlertTrigger is the narrow slice of internal/alerting that heartbeat needs
// to open/escalate an "offline" or "service_down" alert and resolve it once
// the module starts reporting again, without importing the alerting
// package's full surface.
type AlertTrigger interface {
	TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error
	ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error
}

// RecoveryNotifier is notified when a device's offline alerts clear together.
type RecoveryNotifier interface {
	NotifyRecovery(ctx context.Context, device types.Device, bundleKey string, resolved []types.AlertTracking) error
}

// Service tracks heartbeats and runs the periodic offline scan.
type Service struct {
	store   Store
	alerter AlertTrigger
	notify  RecoveryNotifier
	clock   clock.Clock
	logger  *slog.Logger

	stopCh chan struct{}
}

// New creates a heartbeat Service.
func New(store Store, alerter AlertTrigger, notify RecoveryNotifier, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		alerter: alerter,
		notify:  notify,
		clock:   clk,
		logger:  logger.With("component", "heartbeat"),
		stopCh:  make(chan struct{}),
	}
}

// RecordHeartbeat stores a device's heartbeat arrival. If the device was
// offline, it immediately recovers: transitions to online, resolves the
// device's open offline and service_down alerts (other alert types stay
// open), and bundles them under one recovery key
// so the notifier can send a single "back online" message instead of one per
// alert.
func (s *Service) RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	if err := s.store.RecordHeartbeat(ctx, deviceID, at); err != nil {
		return err
	}

	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("load device %s after heartbeat: %w", deviceID, err)
	}
	if device == nil {
		return nil
	}

	if device.MonitoringState == types.StateOffline {
		return s.recoverDevice(ctx, *device)
	}
	if device.MonitoringState == types.StateUnknown {
		return s.store.TransitionDeviceState(ctx, deviceID, types.StateOnline)
	}
	return nil
}

func (s *Service) recoverDevice(ctx context.Context, device types.Device) error {
	if err := s.store.TransitionDeviceState(ctx, device.ID, types.StateOnline); err != nil {
		return fmt.Errorf("transition %s to online: %w", device.ID, err)
	}

	active, err := s.store.ListActiveAlertsForDevice(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("list active alerts for recovered device %s: %w", device.ID, err)
	}
	var bundled []types.AlertTracking
	for _, a := range active {
		if a.AlertType == types.AlertOffline || a.AlertType == types.AlertServiceDown {
			bundled = append(bundled, a)
		}
	}
	if len(bundled) == 0 {
		return nil
	}

	bundleKey := uuid.NewString()
	for _, a := range bundled {
		if err := s.store.ResolveAlert(ctx, a.ID, bundleKey); err != nil {
			s.logger.Error("failed to resolve alert during recovery", "alert_id", a.ID, "device_id", device.ID, "error", err)
		}
	}

	if s.notify != nil {
		if err := s.notify.NotifyRecovery(ctx, device, bundleKey, bundled); err != nil {
			s.logger.Error("failed to send recovery notification", "device_id", device.ID, "error", err)
		}
	}
	return nil
}

// Start runs the offline scanner and the per-module staleness scanner, each
// on config.OfflineScanInterval, until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	go clock.RunTicker(ctx, s.clock, config.OfflineScanInterval, s.stopCh, s.scanOffline)
	go clock.RunTicker(ctx, s.clock, config.OfflineScanInterval, s.stopCh, s.scanModuleStaleness)
}

// Stop halts the offline scanner and the staleness scanner.
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) scanOffline(ctx context.Context) {
	settings, err := s.store.GetSystemSettings(ctx)
	if err != nil {
		s.logger.Error("failed to load system settings for offline scan", "error", err)
		return
	}

	now := s.clock.Now()

	stale, err := s.store.GetDevicesPastOfflineThreshold(ctx, settings.OfflineMultiplier, now)
	if err != nil {
		s.logger.Error("failed to scan for offline devices", "error", err)
		return
	}

	for _, d := range stale {
		if err := s.store.TransitionDeviceState(ctx, d.ID, types.StateOffline); err != nil {
			s.logger.Error("failed to transition device offline", "device_id", d.ID, "error", err)
			continue
		}

		title := fmt.Sprintf("%s has gone offline", d.Name)
		message := fmt.Sprintf("no heartbeat received within the offline threshold (%.1fx expected interval)", settings.OfflineMultiplier)
		if err := s.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
			DeviceID:  d.ID,
			AlertType: types.AlertOffline,
			Severity:  types.SeverityCritical,
			Title:     title,
			Message:   message,
			Overrides: d.Overrides(),
		}); err != nil {
			s.logger.Error("failed to trigger offline alert", "device_id", d.ID, "error", err)
		}
	}

	recovered, err := s.store.GetRecoveredDevices(ctx, settings.OfflineMultiplier, now)
	if err != nil {
		s.logger.Error("failed to scan for recovered devices", "error", err)
		return
	}
	for _, d := range recovered {
		if err := s.recoverDevice(ctx, d); err != nil {
			s.logger.Error("failed to recover device during scan", "device_id", d.ID, "error", err)
		}
	}
}

// scanModuleStaleness opens a service_down warning for any online device
// whose per-module last-successful-metrics timestamp has aged past
// config.ModuleStalenessThreshold, and resolves it once the module is seen
// reporting again. This runs independently of scanOffline: a device can keep
// heartbeating (its system module still reports) while one module has gone
// silent.
func (s *Service) scanModuleStaleness(ctx context.Context) {
	activity, err := s.store.ListModuleActivityForOnlineDevices(ctx)
	if err != nil {
		s.logger.Error("failed to list module activity for staleness scan", "error", err)
		return
	}

	now := s.clock.Now()
	for _, a := range activity {
		stale := now.Sub(a.LastSeenAt) > config.ModuleStalenessThreshold
		if !stale {
			if err := s.alerter.ResolveIfActive(ctx, a.DeviceID, types.AlertServiceDown, string(a.Module), ""); err != nil {
				s.logger.Error("failed to resolve module staleness alert", "device_id", a.DeviceID, "module", a.Module, "error", err)
			}
			continue
		}

		title := fmt.Sprintf("%s module on %s is down", a.Module, a.DeviceID)
		message := fmt.Sprintf("no successful metrics from module %s in over %s", a.Module, config.ModuleStalenessThreshold)
		if err := s.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
			DeviceID:        a.DeviceID,
			AlertType:       types.AlertServiceDown,
			SpecificService: string(a.Module),
			Severity:        types.SeverityWarning,
			Title:           title,
			Message:         message,
		}); err != nil {
			s.logger.Error("failed to trigger module staleness alert", "device_id", a.DeviceID, "module", a.Module, "error", err)
		}
	}
}
