// Package summary renders and fans out the periodic fleet digest: device
// status counts, active alerts, offline devices, and a control-plane
// self-health addendum.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/internal/selfhealth"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface the reporter depends on.
type Store interface {
	ListDevices(ctx context.Context) ([]types.Device, error)
	ListAlerts(ctx context.Context, f types.AlertFilter) ([]types.AlertTracking, error)
}

// Notifier dispatches the rendered digest. Only slack-typed channels are
// targeted; filtering happens at the call site (cmd/server's
// slackOnlyNotifier, via Dispatcher.SendToChannelType), so Reporter only
// needs Send.
type Notifier interface {
	Send(ctx context.Context, n types.Notification) error
}

// Reporter builds and sends the periodic fleet digest.
type Reporter struct {
	store    Store
	notifier Notifier
	health   *selfhealth.Sampler
	clock    clock.Clock
	logger   *slog.Logger

	stopCh chan struct{}
}

// New creates a Reporter.
func New(store Store, notifier Notifier, health *selfhealth.Sampler, clk clock.Clock, logger *slog.Logger) *Reporter {
	return &Reporter{
		store:    store,
		notifier: notifier,
		health:   health,
		clock:    clk,
		logger:   logger.With("component", "summary"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the digest on config.SummaryInterval until ctx is cancelled or
// Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	go clock.RunTicker(ctx, r.clock, config.SummaryInterval, r.stopCh, r.send)
}

// Stop halts the digest tick.
func (r *Reporter) Stop() {
	close(r.stopCh)
}

func (r *Reporter) send(ctx context.Context) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		r.logger.Error("failed to list devices for digest", "error", err)
		return
	}

	alerts, err := r.store.ListAlerts(ctx, types.AlertFilter{})
	if err != nil {
		r.logger.Error("failed to list alerts for digest", "error", err)
		return
	}

	body := Render(devices, alerts, r.health.Sample(), r.clock.Now())
	n := types.Notification{
		Kind:     types.KindDigest,
		Title:    "Fleet status digest",
		Body:     body,
		Severity: types.SeverityInfo,
		SentAt:   r.clock.Now(),
	}
	if err := r.notifier.Send(ctx, n); err != nil {
		r.logger.Error("failed to send fleet digest", "error", err)
	}
}

// Render builds the plain-text digest body: device status counts, active
// alerts formatted as "[severity] device alert_type (Xm)", offline devices
// with "last seen Xm ago", and a control-plane self-health addendum.
func Render(devices []types.Device, alerts []types.AlertTracking, health selfhealth.Snapshot, now time.Time) string {
	var b strings.Builder

	counts := map[types.MonitoringState]int{}
	var offline []types.Device
	for _, d := range devices {
		counts[d.MonitoringState]++
		if d.MonitoringState == types.StateOffline {
			offline = append(offline, d)
		}
	}

	fmt.Fprintf(&b, "Devices: %d total (%d online, %d offline, %d unknown)\n",
		len(devices), counts[types.StateOnline], counts[types.StateOffline], counts[types.StateUnknown])

	var openAlerts []types.AlertTracking
	for _, a := range alerts {
		if a.State != types.AlertStateResolved {
			openAlerts = append(openAlerts, a)
		}
	}

	if len(openAlerts) == 0 {
		b.WriteString("\nNo active alerts.\n")
	} else {
		fmt.Fprintf(&b, "\nActive alerts (%d):\n", len(openAlerts))
		for _, a := range openAlerts {
			age := now.Sub(a.TriggeredAt)
			fmt.Fprintf(&b, "  [%s] %s %s (%dm)\n", a.CurrentSeverity, a.DeviceID, a.AlertType, int(age.Minutes()))
		}
	}

	if len(offline) == 0 {
		b.WriteString("\nNo offline devices.\n")
	} else {
		fmt.Fprintf(&b, "\nOffline devices (%d):\n", len(offline))
		for _, d := range offline {
			lastSeen := "never"
			if d.LastSeenAt != nil {
				lastSeen = fmt.Sprintf("%dm ago", int(now.Sub(*d.LastSeenAt).Minutes()))
			}
			fmt.Fprintf(&b, "  %s last seen %s\n", d.ID, lastSeen)
		}
	}

	fmt.Fprintf(&b, "\n--- control plane health ---\n")
	fmt.Fprintf(&b, "status=%s uptime=%ds goroutines=%d cpu=%.1f%% mem=%.1f%%\n",
		health.Status, health.UptimeSeconds, health.Goroutines, health.CPUPercent, health.MemoryPercent)

	return b.String()
}
