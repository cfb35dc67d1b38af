// Package types defines the core domain types shared across the control plane.
//
// # Design Principles
//
// 1. Simplicity: types represent the domain model directly, no ORM abstractions
// 2. Serialization: all types are JSON-serializable for API transport and MQTT payloads
// 3. Closed vocabularies: enums are typed strings with an exhaustive switch at every
//    decision point, not open strings compared ad hoc
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// DEVICE
// =============================================================================

// Device represents a single monitored endpoint: a physical host, a VoIP
// gateway, or any agent publishing telemetry under device/{id}/... on MQTT.
type Device struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Hostname    string            `json:"hostname,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Module      Module            `json:"module"`
	PublicIP    string            `json:"public_ip,omitempty"`
	LocalIPs    []string          `json:"local_ips,omitempty"`
	MemoryTotal int64             `json:"memory_total,omitempty"`
	DiskTotal   int64             `json:"disk_total,omitempty"`

	ExpectedMessageIntervalSeconds int `json:"expected_message_interval_seconds"`

	// OfflineThresholdMultiplier overrides settings.default_offline_threshold_multiplier
	// for this device when set: multiplier = device ∥ settings ∥
	// config.DefaultOfflineMultiplier.
	OfflineThresholdMultiplier *float64 `json:"offline_threshold_multiplier,omitempty"`

	// RepeatIntervalMinutes / ThrottlingDurationMinutes override the
	// alert-type cadence table (see internal/alerting.resolvePolicy) for
	// every alert raised against this device.
	RepeatIntervalMinutes     *int `json:"repeat_interval_minutes,omitempty"`
	ThrottlingDurationMinutes *int `json:"throttling_duration_minutes,omitempty"`

	// SIPRTTThresholdMs is the fallback high_latency threshold applied to a
	// SIP trunk with no explicit sip_rtt MonitoringCheck covering it.
	SIPRTTThresholdMs *float64 `json:"sip_rtt_threshold_ms,omitempty"`

	MonitoringState MonitoringState `json:"monitoring_state"`
	StateChangedAt  time.Time       `json:"state_changed_at"`

	// LastSeenHistory is the rolling window of the N most recent heartbeat
	// timestamps, newest last. Bounded at config.HeartbeatWindowSize entries.
	LastSeenHistory []time.Time `json:"last_seen_history,omitempty"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`

	Paused bool `json:"paused"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Module identifies which telemetry module a device or rule applies to.
type Module string

const (
	ModuleSystem   Module = "system"
	ModuleNetwork  Module = "network"
	ModuleDocker   Module = "docker"
	ModuleAsterisk Module = "asterisk"
)

// MonitoringState is the device's current heartbeat lifecycle state.
type MonitoringState string

const (
	StateUnknown MonitoringState = "unknown"
	StateOnline  MonitoringState = "online"
	StateOffline MonitoringState = "offline"
)

// Overrides returns the per-device cadence overrides to apply whenever this
// device triggers an alert (see internal/alerting.resolvePolicy).
func (d *Device) Overrides() AlertOverrides {
	return AlertOverrides{
		RepeatIntervalMinutes:     d.RepeatIntervalMinutes,
		ThrottlingDurationMinutes: d.ThrottlingDurationMinutes,
	}
}

// Validate checks that the device carries the minimum required fields.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if d.ExpectedMessageIntervalSeconds <= 0 {
		return fmt.Errorf("device %s: expected_message_interval_seconds must be positive", d.ID)
	}
	return nil
}

// =============================================================================
// MONITORING RULE
// =============================================================================

// CheckType is the closed set of rule/check kinds a MonitoringCheck can express.
type CheckType string

const (
	CheckCPU             CheckType = "cpu"
	CheckMemory          CheckType = "memory"
	CheckDisk            CheckType = "disk"
	CheckBandwidth       CheckType = "bandwidth"
	CheckUtilization     CheckType = "utilization"
	CheckSIPRTT          CheckType = "sip_rtt"
	CheckSIPRegistration CheckType = "sip_registration"
	CheckContainerState  CheckType = "container_state"
	CheckCustom          CheckType = "custom"
)

// NormalizeCheckType maps legacy/alias check-type spellings seen on the wire
// (e.g. historical "sip" or "sip_issue" payloads) onto the closed CheckType
// vocabulary. Nothing in this repository calls it: the MQTT ingress passes
// payloads through unchanged, and every internal caller works with the
// canonical constants above.
func NormalizeCheckType(raw string) (CheckType, bool) {
	switch raw {
	case "cpu":
		return CheckCPU, true
	case "memory", "mem":
		return CheckMemory, true
	case "disk":
		return CheckDisk, true
	case "bandwidth", "bw":
		return CheckBandwidth, true
	case "utilization", "util":
		return CheckUtilization, true
	case "custom":
		return CheckCustom, true
	case "sip_rtt", "sip", "sip_issue":
		return CheckSIPRTT, true
	case "sip_registration", "sip_reg":
		return CheckSIPRegistration, true
	case "container_state", "docker_state":
		return CheckContainerState, true
	default:
		return "", false
	}
}

// MonitoringCheck (a.k.a. "rule") defines a single threshold evaluated against
// a device's telemetry for a given module.
type MonitoringCheck struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Module     Module    `json:"module"`
	CheckType  CheckType `json:"check_type"`
	ServiceRef string    `json:"specific_service,omitempty"`

	WarningThreshold  *float64 `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64 `json:"critical_threshold,omitempty"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// SYSTEM SETTINGS
// =============================================================================

// SystemSettings is the single-row table of fleet-wide tunables: cadence
// overrides, the offline-detector multiplier, SSL and license reminder lead
// times.
type SystemSettings struct {
	OfflineMultiplier     float64       `json:"offline_multiplier"`
	CriticalCadence       time.Duration `json:"critical_cadence"`
	WarningCadence        time.Duration `json:"warning_cadence"`
	WarningToHourlyAfter  time.Duration `json:"warning_to_hourly_after"`
	SSLExpiryWarningDays  int           `json:"ssl_expiry_warning_days"`
	SSLExpiryCriticalDays int           `json:"ssl_expiry_critical_days"`
	LicenseRenewalLeadDays int          `json:"license_renewal_lead_days"`

	// DefaultRepeat / DefaultDuration back the "other" row of the alert-type
	// cadence decision table: any alert_type not named explicitly in
	// internal/alerting.resolvePolicy falls back to these.
	DefaultRepeat   time.Duration `json:"default_repeat"`
	DefaultDuration time.Duration `json:"default_duration"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSystemSettings mirrors spec.md's stated default cadences.
func DefaultSystemSettings() SystemSettings {
	return SystemSettings{
		OfflineMultiplier:      4.0,
		CriticalCadence:        5 * time.Minute,
		WarningCadence:         15 * time.Minute,
		WarningToHourlyAfter:   time.Hour,
		SSLExpiryWarningDays:   30,
		SSLExpiryCriticalDays:  7,
		LicenseRenewalLeadDays: 14,
		DefaultRepeat:          5 * time.Minute,
		DefaultDuration:        60 * time.Minute,
	}
}
