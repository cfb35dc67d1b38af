package config

import "time"

// Telemetry consolidation window per spec.md's 2-second dedup/merge rule.
const (
	ConsolidationWindow = 2 * time.Second

	// SQLConsolidationWindow mirrors ConsolidationWindow for interval literals
	// in raw SQL; keep the two in sync.
	SQLConsolidationWindow = "2 seconds"
)

// Heartbeat / offline detector tuning.
const (
	// HeartbeatWindowSize is N, the rolling window of recent heartbeat
	// timestamps tracked per device.
	HeartbeatWindowSize = 4

	// OfflineScanInterval is how often the offline scanner sweeps all devices.
	OfflineScanInterval = 30 * time.Second

	// DefaultOfflineMultiplier is the default multiplier applied to a
	// device's expected_message_interval_seconds to compute its offline
	// threshold, absent a device or SystemSettings override.
	DefaultOfflineMultiplier = 4.0

	// ModuleStalenessThreshold is how long an online device's per-module
	// last-successful-metrics timestamp may age before that module is
	// considered down.
	ModuleStalenessThreshold = 120 * time.Second
)

// Alert lifecycle cadences (component G), matching spec.md's per-(alert_type,
// severity) decision table (see internal/alerting.resolvePolicy).
const (
	CriticalNotifyCadence = 5 * time.Minute
	WarningNotifyCadence  = 15 * time.Minute
	WarningToHourlyAfter  = time.Hour

	ThrottleTickInterval = time.Minute
)

// Synthetic/SSL prober tuning (component F).
const (
	DefaultSyntheticInterval = time.Minute
	SSLExpiryWarningDays     = 30
	SSLExpiryCriticalDays    = 7
)

// License monitor tuning (component I).
const (
	LicenseScanInterval    = 15 * time.Minute
	LicenseRenewalLeadDays = 14
)

// Summary reporter tuning (component J).
const (
	SummaryInterval = 24 * time.Hour
)

// Redis buffer batching for telemetry write-behind (internal/buffer),
// mirroring the teacher's probe-result buffering constants.
const (
	BufferFlushBatchSize = 5000
	BufferFlushInterval  = ConsolidationWindow
)

// HTTP client timeouts for outbound notification sends and synthetic probes.
const (
	DefaultHTTPTimeout  = 10 * time.Second
	NotifySendTimeout   = 10 * time.Second
	DatabasePingTimeout = 5 * time.Second
	RedisPingTimeout    = 5 * time.Second
)

// Cache TTLs for internal/cache (SSL result cache, consolidation lock TTL).
const (
	CacheTTLSSLResult       = 6 * time.Hour
	ConsolidationLockTTL    = ConsolidationWindow + 500*time.Millisecond
	ActiveKeyLockTTL        = 10 * time.Second
)
