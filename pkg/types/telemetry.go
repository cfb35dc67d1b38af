package types

import "time"

// =============================================================================
// TELEMETRY
// =============================================================================

// Telemetry is a single consolidated reading for one device, after the
// 2-second consolidation window has merged whatever raw MQTT payloads arrived
// for that window across every module. At most one Telemetry row exists per
// device per window: Fields holds the merged system/network scalars (the
// only two modules whose field names are flat and collision-free), and Extra
// holds each module-specific sub-document keyed by module name ("docker",
// "asterisk") so a docker payload's wholesale replace and an asterisk
// payload's per-trunk merge never clobber each other or the scalar fields.
type Telemetry struct {
	ID         string                 `json:"id"`
	DeviceID   string                 `json:"device_id"`
	Fields     map[string]interface{} `json:"fields"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`
	WindowKey  string                 `json:"window_key"`
}

// SystemFields is the typed view over Telemetry.Fields for module=system.
type SystemFields struct {
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
	MemoryUsed    *int64   `json:"memory_used,omitempty"`
	DiskPercent   *float64 `json:"disk_percent,omitempty"`
	DiskUsed      *int64   `json:"disk_used,omitempty"`
}

// NetworkFields is the typed view over Telemetry.Fields for module=network.
type NetworkFields struct {
	RxBytesPerSec *float64 `json:"rx_bytes_per_sec,omitempty"`
	TxBytesPerSec *float64 `json:"tx_bytes_per_sec,omitempty"`
	Interface     string   `json:"interface,omitempty"`
}

// DockerContainer describes one container's reported state within a
// module=docker telemetry payload. Docker payloads replace wholesale rather
// than merge field-by-field (see internal/consolidator).
type DockerContainer struct {
	Name    string `json:"name"`
	State   string `json:"state"` // "running", "exited", "restarting", ...
	Image   string `json:"image,omitempty"`
	Healthy *bool  `json:"healthy,omitempty"`
}

// AsteriskFields is the typed view over Telemetry.Extra["asterisk"].
// Per-trunk fields are deep-merged within a consolidation window (see
// internal/consolidator) since different payloads may report different
// trunks within the same window.
type AsteriskFields struct {
	Trunks map[string]SIPTrunkStatus `json:"trunks,omitempty"`
}

// SIPTrunkStatus is the per-trunk SIP health reported by the asterisk module.
type SIPTrunkStatus struct {
	Registered bool     `json:"registered"`
	RTTMs      *float64 `json:"rtt_ms,omitempty"`
}

// ModuleActivity is the last time a device's given module successfully
// delivered a metrics payload, tracked independently of the device-level
// heartbeat so a single stuck module on an otherwise-healthy device raises
// its own service_down alert rather than being masked by other modules still
// reporting fine.
type ModuleActivity struct {
	DeviceID   string    `json:"device_id"`
	Module     Module    `json:"module"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
