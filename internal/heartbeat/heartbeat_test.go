package heartbeat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	device       types.Device
	transitions  []types.MonitoringState
	activeAlerts []types.AlertTracking
	resolvedIDs  []string
	settings     types.SystemSettings
	activity     []types.ModuleActivity
}

func (f *fakeStore) RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	return nil
}
func (f *fakeStore) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	d := f.device
	return &d, nil
}
func (f *fakeStore) TransitionDeviceState(ctx context.Context, deviceID string, newState types.MonitoringState) error {
	f.transitions = append(f.transitions, newState)
	f.device.MonitoringState = newState
	return nil
}
func (f *fakeStore) GetDevicesPastOfflineThreshold(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error) {
	return nil, nil
}
func (f *fakeStore) GetRecoveredDevices(ctx context.Context, multiplier float64, now time.Time) ([]types.Device, error) {
	return nil, nil
}
func (f *fakeStore) ListActiveAlertsForDevice(ctx context.Context, deviceID string) ([]types.AlertTracking, error) {
	return f.activeAlerts, nil
}
func (f *fakeStore) ResolveAlert(ctx context.Context, alertID, recoveryBundleKey string) error {
	f.resolvedIDs = append(f.resolvedIDs, alertID)
	return nil
}
func (f *fakeStore) GetSystemSettings(ctx context.Context) (types.SystemSettings, error) {
	return f.settings, nil
}
func (f *fakeStore) ListModuleActivityForOnlineDevices(ctx context.Context) ([]types.ModuleActivity, error) {
	return f.activity, nil
}

type fakeAlerter struct {
	calls     int
	triggered []string
	resolved  []string
}

func (f *fakeAlerter) TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error {
	f.calls++
	f.triggered = append(f.triggered, p.DeviceID+"|"+string(p.AlertType)+"|"+p.SpecificService)
	return nil
}

func (f *fakeAlerter) ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error {
	f.resolved = append(f.resolved, deviceID+"|"+string(alertType)+"|"+specificService)
	return nil
}

type fakeNotifier struct {
	called    bool
	bundleKey string
	resolved  []types.AlertTracking
}

func (f *fakeNotifier) NotifyRecovery(ctx context.Context, device types.Device, bundleKey string, resolved []types.AlertTracking) error {
	f.called = true
	f.bundleKey = bundleKey
	f.resolved = resolved
	return nil
}

func newTestService(store *fakeStore, alerter *fakeAlerter, notifier *fakeNotifier) *Service {
	return New(store, alerter, notifier, clock.New(time.UTC), slog.Default())
}

func TestRecordHeartbeatRecoversOfflineDevice(t *testing.T) {
	store := &fakeStore{
		device: types.Device{ID: "gw-01", MonitoringState: types.StateOffline},
		activeAlerts: []types.AlertTracking{
			{ID: "a1", DeviceID: "gw-01", AlertType: types.AlertOffline},
		},
	}
	alerter := &fakeAlerter{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, alerter, notifier)

	if err := svc.RecordHeartbeat(context.Background(), "gw-01", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.device.MonitoringState != types.StateOnline {
		t.Errorf("expected device to transition to online, got %s", store.device.MonitoringState)
	}
	if len(store.resolvedIDs) != 1 || store.resolvedIDs[0] != "a1" {
		t.Errorf("expected alert a1 to be resolved, got %v", store.resolvedIDs)
	}
	if !notifier.called {
		t.Error("expected recovery notification to be sent")
	}
	if notifier.bundleKey == "" {
		t.Error("expected a non-empty recovery bundle key")
	}
}

func TestRecordHeartbeatUnknownToOnline(t *testing.T) {
	store := &fakeStore{device: types.Device{ID: "gw-02", MonitoringState: types.StateUnknown}}
	svc := newTestService(store, &fakeAlerter{}, &fakeNotifier{})

	if err := svc.RecordHeartbeat(context.Background(), "gw-02", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.device.MonitoringState != types.StateOnline {
		t.Errorf("expected device to transition to online, got %s", store.device.MonitoringState)
	}
}

func TestRecordHeartbeatAlreadyOnlineIsNoop(t *testing.T) {
	store := &fakeStore{device: types.Device{ID: "gw-03", MonitoringState: types.StateOnline}}
	svc := newTestService(store, &fakeAlerter{}, &fakeNotifier{})

	if err := svc.RecordHeartbeat(context.Background(), "gw-03", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.transitions) != 0 {
		t.Errorf("expected no state transitions, got %v", store.transitions)
	}
}
