// Package selfhealth samples the control plane process's own resource usage,
// folded as an addendum section into the Summary Reporter's fleet digest —
// the agents publish their own telemetry over MQTT, but the server watching
// its own health is a natural ambient concern.
package selfhealth

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a single reading of the control plane process's own resource
// usage.
type Snapshot struct {
	Status        string    `json:"status"` // healthy | degraded
	Goroutines    int       `json:"goroutines"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Sampler reads process metrics for this running process.
type Sampler struct {
	startedAt time.Time
}

// New creates a Sampler anchored at process start, for uptime calculation.
func New() *Sampler {
	return &Sampler{startedAt: time.Now()}
}

// Sample reads current CPU/memory/goroutine counts for this process.
// gopsutil errors are ignored field-by-field (e.g. CPUPercent requires a
// prior sample to diff against) rather than failing the whole snapshot.
func (s *Sampler) Sample() Snapshot {
	snap := Snapshot{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SampledAt:     time.Now(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			snap.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			snap.MemoryPercent = float64(memPct)
		}
	}

	if snap.CPUPercent > 90 || snap.MemoryPercent > 90 {
		snap.Status = "degraded"
	}
	return snap
}
