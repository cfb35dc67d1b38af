package mqttingress

import (
	"testing"

	"github.com/fleetwatch/control-plane/pkg/types"
)

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic        string
		wantDeviceID string
		wantRest     string
		wantOK       bool
	}{
		{"iotmonitor/device/gw-01/status", "gw-01", "status", true},
		{"iotmonitor/device/gw-01/metrics/system", "gw-01", "metrics/system", true},
		{"iotmonitor/device/gw-01/metrics/asterisk", "gw-01", "metrics/asterisk", true},
		{"iotmonitor/device/gw-01", "", "", false},
		{"other/topic", "", "", false},
	}

	for _, tt := range tests {
		deviceID, rest, ok := parseDeviceTopic(tt.topic)
		if ok != tt.wantOK {
			t.Fatalf("parseDeviceTopic(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if deviceID != tt.wantDeviceID || rest != tt.wantRest {
			t.Errorf("parseDeviceTopic(%q) = (%q, %q), want (%q, %q)", tt.topic, deviceID, rest, tt.wantDeviceID, tt.wantRest)
		}
	}
}

func TestParseMetricsModule(t *testing.T) {
	tests := []struct {
		rest string
		want types.Module
		ok   bool
	}{
		{"metrics/system", types.ModuleSystem, true},
		{"metrics/network", types.ModuleNetwork, true},
		{"metrics/docker", types.ModuleDocker, true},
		{"metrics/asterisk", types.ModuleAsterisk, true},
		{"metrics/unknown", "", false},
	}

	for _, tt := range tests {
		got, ok := parseMetricsModule(tt.rest)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseMetricsModule(%q) = (%q, %v), want (%q, %v)", tt.rest, got, ok, tt.want, tt.ok)
		}
	}
}
