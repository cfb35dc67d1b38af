package rules

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	checks []types.MonitoringCheck
	device *types.Device
}

func (f *fakeStore) ListChecksForDevice(ctx context.Context, deviceID string) ([]types.MonitoringCheck, error) {
	return f.checks, nil
}

func (f *fakeStore) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	return f.device, nil
}

type fakeAlerter struct {
	triggered []string
	resolved  []string
}

func (f *fakeAlerter) TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error {
	f.triggered = append(f.triggered, p.DeviceID+"|"+string(p.AlertType)+"|"+p.SpecificService)
	return nil
}

func (f *fakeAlerter) ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error {
	f.resolved = append(f.resolved, deviceID+"|"+string(alertType)+"|"+specificService)
	return nil
}

func threshold(v float64) *float64 { return &v }

func TestEvaluateTriggersOnCriticalBreach(t *testing.T) {
	store := &fakeStore{checks: []types.MonitoringCheck{
		{ID: "c1", DeviceID: "gw-01", Module: types.ModuleSystem, CheckType: types.CheckCPU,
			WarningThreshold: threshold(80), CriticalThreshold: threshold(95), Enabled: true},
	}}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "gw-01",
		Fields:   map[string]interface{}{"cpu_percent": 97.5},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 1 {
		t.Fatalf("expected 1 triggered alert, got %d", len(alerter.triggered))
	}
}

func TestEvaluateResolvesWhenBackInBounds(t *testing.T) {
	store := &fakeStore{checks: []types.MonitoringCheck{
		{ID: "c1", DeviceID: "gw-01", Module: types.ModuleSystem, CheckType: types.CheckCPU,
			WarningThreshold: threshold(80), CriticalThreshold: threshold(95), Enabled: true},
	}}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "gw-01",
		Fields:   map[string]interface{}{"cpu_percent": 40.0},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.resolved) != 1 {
		t.Fatalf("expected 1 resolved check, got %d", len(alerter.resolved))
	}
	if len(alerter.triggered) != 0 {
		t.Fatalf("expected no triggers, got %d", len(alerter.triggered))
	}
}

func TestEvaluateDockerContainerExited(t *testing.T) {
	store := &fakeStore{}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "gw-02",
		Extra: map[string]interface{}{
			"docker": map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "asterisk", "state": "exited"},
					map[string]interface{}{"name": "nginx", "state": "running"},
				},
			},
		},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 1 {
		t.Fatalf("expected 1 triggered container alert, got %d", len(alerter.triggered))
	}
	if len(alerter.resolved) != 1 {
		t.Fatalf("expected 1 resolved container check, got %d", len(alerter.resolved))
	}
}

func TestEvaluateDockerContainerRestartingIsWarning(t *testing.T) {
	store := &fakeStore{}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "gw-02",
		Extra: map[string]interface{}{
			"docker": map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "nginx", "state": "restarting"},
				},
			},
		},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 1 {
		t.Fatalf("expected 1 triggered container alert, got %d", len(alerter.triggered))
	}
}

func TestEvaluateSIPTrunkNotRegistered(t *testing.T) {
	store := &fakeStore{}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "pbx-01",
		Extra: map[string]interface{}{
			"asterisk": map[string]interface{}{
				"trunks": map[string]interface{}{
					"trunk-a": map[string]interface{}{"registered": false},
				},
			},
		},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 1 {
		t.Fatalf("expected 1 triggered sip alert, got %d", len(alerter.triggered))
	}
}

func TestEvaluateSIPTrunkHighLatencyFallsBackToDeviceThreshold(t *testing.T) {
	store := &fakeStore{device: &types.Device{ID: "pbx-01", SIPRTTThresholdMs: threshold(150)}}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "pbx-01",
		Extra: map[string]interface{}{
			"asterisk": map[string]interface{}{
				"trunks": map[string]interface{}{
					"trunk-a": map[string]interface{}{"registered": true, "rtt_ms": 300.0},
				},
			},
		},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, tr := range alerter.triggered {
		if tr == "pbx-01|high_latency|trunk-a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a high_latency trigger for trunk-a, got %v", alerter.triggered)
	}
}

func TestEvaluateSIPTrunkRTTDefersToGenericCheckWhenDedicatedCheckExists(t *testing.T) {
	store := &fakeStore{
		device: &types.Device{ID: "pbx-01", SIPRTTThresholdMs: threshold(150)},
		checks: []types.MonitoringCheck{
			{ID: "c1", DeviceID: "pbx-01", Module: types.ModuleAsterisk, CheckType: types.CheckSIPRTT,
				ServiceRef: "trunk-a", WarningThreshold: threshold(100), CriticalThreshold: threshold(400), Enabled: true},
		},
	}
	alerter := &fakeAlerter{}
	e := New(store, alerter, slog.Default())

	telemetry := &types.Telemetry{
		DeviceID: "pbx-01",
		Extra: map[string]interface{}{
			"asterisk": map[string]interface{}{
				"trunks": map[string]interface{}{
					"trunk-a": map[string]interface{}{"registered": true, "rtt_ms": 300.0},
				},
			},
		},
	}

	if err := e.Evaluate(context.Background(), telemetry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The generic check loop (rule_violation) should fire, not the
	// evaluateSIPTrunks fallback's high_latency alert.
	for _, tr := range alerter.triggered {
		if tr == "pbx-01|high_latency|trunk-a" {
			t.Fatalf("expected evaluateSIPTrunks to defer to the dedicated check, got direct high_latency trigger: %v", alerter.triggered)
		}
	}
}
