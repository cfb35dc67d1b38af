package mqttingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// MetricsSink is the narrow slice of internal/consolidator this package
// depends on to fold a metrics payload into the active consolidation
// window.
type MetricsSink interface {
	HandleMetrics(ctx context.Context, deviceID string, module types.Module, fields map[string]interface{}) error
}

// HeartbeatTracker is the narrow slice of internal/heartbeat this package
// depends on to record a device's liveness.
type HeartbeatTracker interface {
	RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error
}

// OfflineAlerter is the narrow slice of internal/alerting this package needs
// to open an "offline" alert the instant a device announces its own
// disconnect, rather than waiting for the next offline-scan tick.
type OfflineAlerter interface {
	TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error
}

// ModuleActivityRecorder is the narrow slice of the store this package needs
// to stamp a module's last-successful-metrics timestamp, feeding the
// heartbeat package's per-module staleness scan.
type ModuleActivityRecorder interface {
	RecordModuleActivity(ctx context.Context, deviceID string, module types.Module, at time.Time) error
}

// Router implements Handler by composing the consolidation, heartbeat, and
// alerting pipelines. It owns no storage itself; every status/metrics/
// response message it receives is routed straight through to a collaborator.
type Router struct {
	metrics        MetricsSink
	heartbeat      HeartbeatTracker
	alerter        OfflineAlerter
	moduleActivity ModuleActivityRecorder
	logger         *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(metrics MetricsSink, heartbeat HeartbeatTracker, alerter OfflineAlerter, moduleActivity ModuleActivityRecorder, logger *slog.Logger) *Router {
	return &Router{
		metrics:        metrics,
		heartbeat:      heartbeat,
		alerter:        alerter,
		moduleActivity: moduleActivity,
		logger:         logger.With("component", "mqttingress_router"),
	}
}

// HandleStatus records a heartbeat for non-retained "online" status
// payloads. A non-retained "offline" payload is the device announcing its own
// clean disconnect (as opposed to simply going silent), so it opens a
// critical offline alert immediately instead of waiting for the periodic
// offline scan to notice the missed heartbeat window. A retained message of
// either kind is just the broker replaying the device's last-known state to
// a newly subscribed client and is ignored, so it never triggers an alert or
// a recovery notification.
func (r *Router) HandleStatus(ctx context.Context, deviceID string, status string, retained bool) error {
	switch status {
	case "online":
		if retained {
			return nil
		}
		return r.heartbeat.RecordHeartbeat(ctx, deviceID, time.Now())
	case "offline":
		if retained {
			return nil
		}
		return r.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
			DeviceID:  deviceID,
			AlertType: types.AlertOffline,
			Severity:  types.SeverityCritical,
			Title:     "device reported offline",
			Message:   "device published a clean offline status message",
		})
	default:
		r.logger.Warn("unrecognized status payload", "device_id", deviceID, "status", status)
		return nil
	}
}

// HandleMetrics records the module's activity timestamp (feeding the
// per-module staleness scan in internal/heartbeat) and delegates the payload
// itself to the consolidator.
func (r *Router) HandleMetrics(ctx context.Context, deviceID string, module types.Module, fields map[string]interface{}) error {
	if err := r.moduleActivity.RecordModuleActivity(ctx, deviceID, module, time.Now()); err != nil {
		r.logger.Error("failed to record module activity", "device_id", deviceID, "module", module, "error", err)
	}
	return r.metrics.HandleMetrics(ctx, deviceID, module, fields)
}

// HandleResponse logs the command-response payload. The terminal relay
// transport that would otherwise consume this is out of scope (spec.md's
// remote-terminal Non-goal); the routing hook stays so one can be bolted on
// without touching the ingress subscriber.
func (r *Router) HandleResponse(ctx context.Context, deviceID string, payload []byte) error {
	r.logger.Debug("command response received, no relay configured", "device_id", deviceID, "bytes", len(payload))
	return nil
}
