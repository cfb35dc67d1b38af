package types

import "time"

// =============================================================================
// ALERT TYPE / SEVERITY
// =============================================================================

// AlertType is the closed set of reasons an AlertTracking row can exist for.
type AlertType string

const (
	AlertRuleViolation AlertType = "rule_violation"
	AlertHighLatency   AlertType = "high_latency"
	AlertOffline       AlertType = "offline"
	AlertServiceDown   AlertType = "service_down"
	AlertSIPIssue      AlertType = "sip_issue"
	AlertSSLExpiry     AlertType = "ssl_expiry"
	AlertLicense       AlertType = "license_renewal"
	AlertOther         AlertType = "other"
)

// NormalizeAlertType maps legacy aliases to the canonical AlertType. Nothing
// in this repository calls it; alerts are triggered with canonical constants.
func NormalizeAlertType(raw string) AlertType {
	switch raw {
	case "sip_rtt_violation", "sip_high_rtt":
		return AlertHighLatency
	case "sip_registration_failed":
		return AlertSIPIssue
	default:
		return AlertType(raw)
	}
}

// AlertSeverity orders from least to most severe.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Level returns a numeric ordering so severities can be compared directly.
func (s AlertSeverity) Level() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AlertState is the lifecycle state machine position of an AlertTracking row.
type AlertState string

const (
	AlertStateNew        AlertState = "new"
	AlertStateThrottling AlertState = "throttling"
	AlertStateHourlyOnly AlertState = "hourly_only"
	AlertStateResolved   AlertState = "resolved"
)

// =============================================================================
// ALERT TRACKING
// =============================================================================

// AlertTracking is the evolving record of a single active problem. The tuple
// (DeviceID, AlertType, SpecificService, SpecificEndpoint) is the "active
// key": at most one non-resolved row may exist for a given active key, a
// constraint enforced in the store via a partial unique index, not an
// in-memory lock (see internal/alerting).
type AlertTracking struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`

	AlertType        AlertType `json:"alert_type"`
	SpecificService  string    `json:"specific_service,omitempty"`
	SpecificEndpoint string    `json:"specific_endpoint,omitempty"`

	State AlertState `json:"state"`

	InitialSeverity AlertSeverity `json:"initial_severity"`
	PeakSeverity    AlertSeverity `json:"peak_severity"`
	CurrentSeverity AlertSeverity `json:"current_severity"`

	Title   string `json:"title"`
	Message string `json:"message"`

	NotificationCount int        `json:"notification_count"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`
	NextEligibleAt    *time.Time `json:"next_eligible_at,omitempty"`

	TriggeredAt time.Time  `json:"triggered_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	IncidentID *string `json:"incident_id,omitempty"`

	// TargetType carries through to the Incident this alert correlates into
	// (see internal/incidents). Defaults to "device" when empty, which covers
	// every alert raised against a real Device; synthetic-check and
	// license-derived alerts set it explicitly.
	TargetType string `json:"target_type,omitempty"`

	// RepeatMinutes / ThrottleDurationMinutes are the resolved cadence
	// (internal/alerting.resolvePolicy) this row was opened or last escalated
	// with: the (alert_type, severity) decision table row, overridden by any
	// device-level cadence override. Stored on the row itself so the
	// reminder engine doesn't need to re-derive policy (and risk a different
	// answer) every throttle-sweep tick.
	RepeatMinutes           int `json:"repeat_minutes"`
	ThrottleDurationMinutes int `json:"throttle_duration_minutes"`

	// RecoveryBundleKey groups alerts resolved together as part of a single
	// device-offline recovery event, so one "back online" notification can
	// summarize every alert that cleared with it.
	RecoveryBundleKey string `json:"recovery_bundle_key,omitempty"`
}

// AlertOverrides carries the per-device cadence overrides (see Device) that
// take precedence over the alert_type decision table and SystemSettings
// defaults in internal/alerting.resolvePolicy.
type AlertOverrides struct {
	RepeatIntervalMinutes     *int
	ThrottlingDurationMinutes *int
}

// AlertTriggerParams is the full argument set for triggering or escalating an
// alert. Every internal package that calls into internal/alerting builds one
// of these rather than internal/alerting importing each caller's package for
// a narrower type.
type AlertTriggerParams struct {
	DeviceID         string
	AlertType        AlertType
	SpecificService  string
	SpecificEndpoint string
	Severity         AlertSeverity
	Title            string
	Message          string

	// TargetType is the Incident target type this alert correlates into;
	// defaults to "device" when left empty.
	TargetType string
	Overrides  AlertOverrides
}

// ActiveKey returns the dedup key used for the partial unique index and for
// in-process lookups against already-loaded rows.
func (a *AlertTracking) ActiveKey() string {
	return a.DeviceID + "|" + string(a.AlertType) + "|" + a.SpecificService + "|" + a.SpecificEndpoint
}

// AlertEvent is one row in an AlertTracking row's audit trail.
type AlertEvent struct {
	ID          string         `json:"id"`
	AlertID     string         `json:"alert_id"`
	EventType   string         `json:"event_type"` // created, escalated, de_escalated, throttled, resolved, reopened
	OldSeverity *AlertSeverity `json:"old_severity,omitempty"`
	NewSeverity *AlertSeverity `json:"new_severity,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AlertFilter narrows ListAlerts queries.
type AlertFilter struct {
	DeviceID  *string
	AlertType *AlertType
	State     *AlertState
	Since     *time.Time
	Limit     int
	Offset    int
}

// =============================================================================
// INCIDENT
// =============================================================================

// Incident aggregates one or more AlertTracking rows that share a target and
// a human-facing summary into one record. The fleet digest does not read
// incidents; it lists active alerts individually.
type Incident struct {
	ID         string        `json:"id"`
	TargetType string        `json:"target_type"` // "device" | "synthetic" | "license" | "service"
	TargetID   string        `json:"target_id"`
	Summary    string        `json:"summary"`
	Severity   AlertSeverity `json:"severity"`
	AlertIDs   []string      `json:"alert_ids"`
	Status     string        `json:"status"` // "active" | "resolved"
	DetectedAt time.Time     `json:"detected_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Key returns the uniqueness key for ensureIncidentOpen: one incident per
// (target_type, target_id, summary).
func (i *Incident) Key() string {
	return i.TargetType + "|" + i.TargetID + "|" + i.Summary
}
