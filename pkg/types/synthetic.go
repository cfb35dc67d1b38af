package types

import "time"

// =============================================================================
// SYNTHETIC / SSL CHECK
// =============================================================================

// SyntheticCheck is a periodically-probed HTTP and/or SSL endpoint, independent
// of any device's own MQTT telemetry.
type SyntheticCheck struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	HTTP     bool   `json:"http"`
	SSL      bool   `json:"ssl_enabled"`
	Interval time.Duration `json:"interval"`

	ExpectedStatusCode int    `json:"expected_status_code,omitempty"`
	ResponseMatch      string `json:"response_match,omitempty"` // substring or regex
	LatencyWarningMs   *float64 `json:"latency_warning_ms,omitempty"`
	LatencyCriticalMs  *float64 `json:"latency_critical_ms,omitempty"`

	Paused bool `json:"paused"`

	LastHTTPResult *ProbeOutcome `json:"last_http_result,omitempty"`
	LastSSLResult  *SSLOutcome   `json:"last_ssl_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProbeOutcome is the effective result of the HTTP leg of a probe.
type ProbeOutcome struct {
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	LatencyMs  float64       `json:"latency_ms"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// SSLOutcome is the effective result of the SSL leg of a probe.
type SSLOutcome struct {
	Valid       bool      `json:"valid"`
	NotAfter    time.Time `json:"not_after"`
	DaysToExpiry int      `json:"days_to_expiry"`
	Issuer      string    `json:"issuer,omitempty"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`

	// RenewalDetectedAt is stamped the first time a check observes a
	// NotAfter date further out than the previously recorded one, closing
	// out any open ssl_expiry alert/reminder cadence for this check.
	RenewalDetectedAt *time.Time `json:"renewal_detected_at,omitempty"`

	// LastReminderBucket is the bucket key (see internal/clock) of the last
	// reminder notification sent for this check's current expiry, so the
	// reminder cadence fires at most once per bucket.
	LastReminderBucket string `json:"last_reminder_bucket,omitempty"`
}

// =============================================================================
// LICENSE ASSET
// =============================================================================

// LicenseAssetState mirrors the alert lifecycle's new/throttling/hourly_only/
// resolved shape, applied to license renewal deadlines instead of alerts.
type LicenseAssetState string

const (
	LicenseStateOK       LicenseAssetState = "ok"
	LicenseStateWarning  LicenseAssetState = "warning"
	LicenseStateCritical LicenseAssetState = "critical"
	LicenseStateExpired  LicenseAssetState = "expired"
)

// LicenseAsset tracks a single software/hardware license renewal deadline.
type LicenseAsset struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	DeviceID     string            `json:"device_id,omitempty"`
	RenewalDate  time.Time         `json:"renewal_date"`
	State        LicenseAssetState `json:"state"`
	LastNotifiedBucket string      `json:"last_notified_bucket,omitempty"`

	// IncidentID is the currently open target_type=license Incident
	// correlating this asset's non-ok state, if any (see internal/license).
	IncidentID *string `json:"incident_id,omitempty"`

	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
