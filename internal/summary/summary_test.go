package summary

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/internal/selfhealth"
	"github.com/fleetwatch/control-plane/pkg/types"
)

func TestRenderIncludesDeviceCountsAndAlerts(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	lastSeen := now.Add(-45 * time.Minute)

	devices := []types.Device{
		{ID: "gw-01", MonitoringState: types.StateOnline},
		{ID: "gw-02", MonitoringState: types.StateOffline, LastSeenAt: &lastSeen},
	}
	alerts := []types.AlertTracking{
		{ID: "a1", DeviceID: "gw-02", AlertType: types.AlertOffline, CurrentSeverity: types.SeverityCritical,
			State: types.AlertStateThrottling, TriggeredAt: now.Add(-45 * time.Minute)},
		{ID: "a2", DeviceID: "gw-01", AlertType: types.AlertRuleViolation, State: types.AlertStateResolved},
	}

	body := Render(devices, alerts, selfhealth.Snapshot{Status: "healthy", UptimeSeconds: 100}, now)

	if !strings.Contains(body, "2 total") {
		t.Errorf("expected device total in digest, got:\n%s", body)
	}
	if !strings.Contains(body, "Active alerts (1)") {
		t.Errorf("expected exactly 1 active alert listed, got:\n%s", body)
	}
	if !strings.Contains(body, "gw-02 last seen 45m ago") {
		t.Errorf("expected offline device with last-seen age, got:\n%s", body)
	}
	if strings.Contains(body, "a2") {
		t.Errorf("resolved alert should not appear in digest:\n%s", body)
	}
}

func TestRenderHandlesNoAlertsOrOfflineDevices(t *testing.T) {
	now := time.Now()
	body := Render(nil, nil, selfhealth.Snapshot{}, now)

	if !strings.Contains(body, "No active alerts.") {
		t.Error("expected no-active-alerts message")
	}
	if !strings.Contains(body, "No offline devices.") {
		t.Error("expected no-offline-devices message")
	}
}
