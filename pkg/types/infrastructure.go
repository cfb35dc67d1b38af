package types

import "time"

// ControlPlaneHealth carries the same process readings as
// internal/selfhealth.Snapshot (sampled with gopsutil), for the
// InfrastructureHealth snapshot. The fleet digest renders selfhealth.Snapshot
// directly, not this type.
type ControlPlaneHealth struct {
	Status        string  `json:"status"` // healthy, degraded, down
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// DatabaseHealth reports the pgx pool's own view of its connections.
type DatabaseHealth struct {
	Status string    `json:"status"`
	Pool   PoolStats `json:"pool"`
}

// PoolStats mirrors pgxpool.Stat()'s fields that are worth surfacing.
type PoolStats struct {
	TotalConnections    int32 `json:"total_connections"`
	IdleConnections     int32 `json:"idle_connections"`
	AcquiredConnections int32 `json:"acquired_connections"`
	MaxConnections      int32 `json:"max_connections"`
}

// BufferHealth reports the Redis-backed telemetry write-behind buffer's depth.
type BufferHealth struct {
	Enabled    bool    `json:"enabled"`
	Connected  bool    `json:"connected"`
	QueueDepth int64   `json:"queue_depth"`
	FlushRate  float64 `json:"flush_rate_per_second"`
}

// InfrastructureHealth is the full self-health snapshot.
type InfrastructureHealth struct {
	Timestamp    time.Time          `json:"timestamp"`
	ControlPlane ControlPlaneHealth `json:"control_plane"`
	Database     DatabaseHealth     `json:"database"`
	Buffer       BufferHealth       `json:"buffer"`
}
