package mqttingress

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeMetricsSink struct {
	calls int
}

func (f *fakeMetricsSink) HandleMetrics(ctx context.Context, deviceID string, module types.Module, fields map[string]interface{}) error {
	f.calls++
	return nil
}

type fakeHeartbeatTracker struct {
	recorded []string
}

func (f *fakeHeartbeatTracker) RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	f.recorded = append(f.recorded, deviceID)
	return nil
}

type fakeOfflineAlerter struct {
	triggered []string
}

func (f *fakeOfflineAlerter) TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error {
	f.triggered = append(f.triggered, p.DeviceID)
	return nil
}

type fakeModuleActivityRecorder struct {
	recorded []string
}

func (f *fakeModuleActivityRecorder) RecordModuleActivity(ctx context.Context, deviceID string, module types.Module, at time.Time) error {
	f.recorded = append(f.recorded, deviceID+"|"+string(module))
	return nil
}

func TestHandleStatusOnlineRecordsHeartbeat(t *testing.T) {
	hb := &fakeHeartbeatTracker{}
	r := NewRouter(&fakeMetricsSink{}, hb, &fakeOfflineAlerter{}, &fakeModuleActivityRecorder{}, slog.Default())

	if err := r.HandleStatus(context.Background(), "gw-01", "online", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hb.recorded) != 1 || hb.recorded[0] != "gw-01" {
		t.Fatalf("expected heartbeat recorded for gw-01, got %v", hb.recorded)
	}
}

func TestHandleStatusNonRetainedOfflineTriggersAlert(t *testing.T) {
	alerter := &fakeOfflineAlerter{}
	r := NewRouter(&fakeMetricsSink{}, &fakeHeartbeatTracker{}, alerter, &fakeModuleActivityRecorder{}, slog.Default())

	if err := r.HandleStatus(context.Background(), "gw-01", "offline", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 1 {
		t.Fatalf("expected immediate offline alert, got %d", len(alerter.triggered))
	}
}

func TestHandleStatusRetainedOfflineIsIgnored(t *testing.T) {
	alerter := &fakeOfflineAlerter{}
	r := NewRouter(&fakeMetricsSink{}, &fakeHeartbeatTracker{}, alerter, &fakeModuleActivityRecorder{}, slog.Default())

	if err := r.HandleStatus(context.Background(), "gw-01", "offline", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.triggered) != 0 {
		t.Fatalf("expected retained offline replay to be ignored, got %d triggers", len(alerter.triggered))
	}
}

func TestHandleMetricsDelegatesToSink(t *testing.T) {
	sink := &fakeMetricsSink{}
	recorder := &fakeModuleActivityRecorder{}
	r := NewRouter(sink, &fakeHeartbeatTracker{}, &fakeOfflineAlerter{}, recorder, slog.Default())

	if err := r.HandleMetrics(context.Background(), "gw-01", types.ModuleSystem, map[string]interface{}{"cpu_percent": 50.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected 1 call to metrics sink, got %d", sink.calls)
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("expected module activity recorded once, got %d", len(recorder.recorded))
	}
}
