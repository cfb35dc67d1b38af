// Package rules evaluates a device's MonitoringChecks against its latest
// consolidated telemetry, triggering or resolving alerts as thresholds are
// crossed.
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// Alerter is the slice of internal/alerting this package depends on.
type Alerter interface {
	TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error
	ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error
}

// Store is the persistence surface the evaluator depends on.
type Store interface {
	ListChecksForDevice(ctx context.Context, deviceID string) ([]types.MonitoringCheck, error)
	GetDevice(ctx context.Context, id string) (*types.Device, error)
}

// Evaluator runs every enabled MonitoringCheck for a device against a freshly
// consolidated Telemetry reading.
type Evaluator struct {
	store   Store
	alerter Alerter
	logger  *slog.Logger
}

// New creates an Evaluator.
func New(store Store, alerter Alerter, logger *slog.Logger) *Evaluator {
	return &Evaluator{store: store, alerter: alerter, logger: logger.With("component", "rules")}
}

// Evaluate runs every enabled check for t.DeviceID against t's merged fields,
// and also evaluates module-specific invariants that aren't expressed as a
// threshold check (docker container exits, SIP trunk registration loss). A
// single Telemetry row can carry docker and/or asterisk sub-documents
// alongside the scalar system/network fields, so every applicable dispatch
// runs off the one row rather than switching on a single module tag.
func (e *Evaluator) Evaluate(ctx context.Context, t *types.Telemetry) error {
	device, err := e.store.GetDevice(ctx, t.DeviceID)
	if err != nil {
		return fmt.Errorf("load device %s: %w", t.DeviceID, err)
	}
	var overrides types.AlertOverrides
	if device != nil {
		overrides = device.Overrides()
	}

	checks, err := e.store.ListChecksForDevice(ctx, t.DeviceID)
	if err != nil {
		return fmt.Errorf("load checks for %s: %w", t.DeviceID, err)
	}

	for _, check := range checks {
		if err := e.evaluateCheck(ctx, t, check, overrides); err != nil {
			e.logger.Error("failed to evaluate check", "device_id", t.DeviceID, "check_id", check.ID, "error", err)
		}
	}

	if _, ok := t.Extra[string(types.ModuleDocker)]; ok {
		e.evaluateContainers(ctx, t, overrides)
	}
	if _, ok := t.Extra[string(types.ModuleAsterisk)]; ok {
		e.evaluateSIPTrunks(ctx, t, device, checks, overrides)
	}

	return nil
}

func (e *Evaluator) evaluateCheck(ctx context.Context, t *types.Telemetry, check types.MonitoringCheck, overrides types.AlertOverrides) error {
	value, ok := extractValue(t, check)
	if !ok {
		return nil
	}

	severity, breached := classify(value, check.WarningThreshold, check.CriticalThreshold)
	if !breached {
		return e.alerter.ResolveIfActive(ctx, t.DeviceID, types.AlertRuleViolation, check.ServiceRef, "")
	}

	title := fmt.Sprintf("%s %s threshold breached", t.DeviceID, check.CheckType)
	message := fmt.Sprintf("%s is %.2f (warning=%v, critical=%v)", check.CheckType, value, thresholdStr(check.WarningThreshold), thresholdStr(check.CriticalThreshold))
	return e.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID:        t.DeviceID,
		AlertType:       types.AlertRuleViolation,
		SpecificService: check.ServiceRef,
		Severity:        severity,
		Title:           title,
		Message:         message,
		Overrides:       overrides,
	})
}

// extractValue dispatches a check to the right sub-document of t: sip_rtt
// checks read a named trunk's rtt_ms out of the asterisk extra block, since
// that field isn't a top-level scalar; everything else reads the merged
// scalar Fields map.
func extractValue(t *types.Telemetry, check types.MonitoringCheck) (float64, bool) {
	if check.CheckType == types.CheckSIPRTT {
		return sipTrunkRTT(t, check.ServiceRef)
	}
	return scalarValue(t.Fields, check)
}

// sipTrunkRTT reads trunks[name].rtt_ms out of the asterisk extra
// sub-document (see pkg/types.AsteriskFields/SIPTrunkStatus).
func sipTrunkRTT(t *types.Telemetry, trunkName string) (float64, bool) {
	asterisk, ok := t.Extra[string(types.ModuleAsterisk)].(map[string]interface{})
	if !ok {
		return 0, false
	}
	trunks, ok := asterisk["trunks"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	m, ok := trunks[trunkName].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return numericField(m, "rtt_ms")
}

// scalarValue extracts the numeric field a CheckType cares about from the
// merged telemetry fields map. Every module publishes field names as plain
// JSON keys rather than a typed struct over the wire, so this is a small
// lookup table rather than a type assertion chain. CheckCustom reads the
// check's own ServiceRef as the field name, letting an operator-defined
// check target any scalar field without a dedicated CheckType.
func scalarValue(fields map[string]interface{}, check types.MonitoringCheck) (float64, bool) {
	var key string
	switch check.CheckType {
	case types.CheckCPU:
		key = "cpu_percent"
	case types.CheckMemory:
		key = "memory_percent"
	case types.CheckDisk:
		key = "disk_percent"
	case types.CheckBandwidth:
		key = "rx_bytes_per_sec"
	case types.CheckUtilization:
		key = "utilization_percent"
	case types.CheckCustom:
		key = check.ServiceRef
	default:
		return 0, false
	}
	return numericField(fields, key)
}

func numericField(fields map[string]interface{}, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// classify returns the breached severity and whether any threshold was
// crossed. A nil threshold means that level is not configured for this
// check, so it's skipped.
func classify(value float64, warning, critical *float64) (types.AlertSeverity, bool) {
	if critical != nil && value >= *critical {
		return types.SeverityCritical, true
	}
	if warning != nil && value >= *warning {
		return types.SeverityWarning, true
	}
	return "", false
}

func thresholdStr(v *float64) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%.2f", *v)
}

// evaluateContainers classifies every container in the window's docker
// extra sub-document per spec's full container-state vocabulary: stopped,
// dead, exited and not_found are critical (the container isn't running at
// all), restarting/paused/created are a warning (the container is mid
// lifecycle-transition, not definitively down), and an unhealthy healthcheck
// escalates an otherwise-running container to critical.
func (e *Evaluator) evaluateContainers(ctx context.Context, t *types.Telemetry, overrides types.AlertOverrides) {
	docker, ok := t.Extra[string(types.ModuleDocker)].(map[string]interface{})
	if !ok {
		return
	}
	raw, ok := docker["containers"]
	if !ok {
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		return
	}

	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		state, _ := m["state"].(string)
		health, _ := m["health"].(string)
		if name == "" {
			continue
		}

		severity, down := containerSeverity(state, health)
		if down {
			title := fmt.Sprintf("container %s is %s", name, state)
			if err := e.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
				DeviceID:        t.DeviceID,
				AlertType:       types.AlertServiceDown,
				SpecificService: name,
				Severity:        severity,
				Title:           title,
				Message:         fmt.Sprintf("container_state check reported state=%s health=%s", state, health),
				Overrides:       overrides,
			}); err != nil {
				e.logger.Error("failed to trigger container alert", "device_id", t.DeviceID, "container", name, "error", err)
			}
		} else {
			if err := e.alerter.ResolveIfActive(ctx, t.DeviceID, types.AlertServiceDown, name, ""); err != nil {
				e.logger.Error("failed to resolve container alert", "device_id", t.DeviceID, "container", name, "error", err)
			}
		}
	}
}

// containerSeverity classifies a docker container's reported state/health
// into the alert severity it should raise, and whether it's down at all.
func containerSeverity(state, health string) (types.AlertSeverity, bool) {
	if health == "unhealthy" {
		return types.SeverityCritical, true
	}
	switch state {
	case "stopped", "dead", "exited", "not_found":
		return types.SeverityCritical, true
	case "restarting", "paused", "created":
		return types.SeverityWarning, true
	default:
		return "", false
	}
}

// evaluateSIPTrunks walks the window's asterisk extra sub-document,
// resolving sip_issue (registration) independently of high_latency (RTT).
// RTT is handled two ways: if a sip_rtt MonitoringCheck explicitly covers
// this trunk, its threshold already ran through the generic check loop
// (extractValue/sipTrunkRTT above), so this only needs to resolve any stale
// alert if the trunk later stops reporting rtt_ms; otherwise it falls back
// to the device's SIPRTTThresholdMs so a trunk with no dedicated check still
// gets latency monitoring.
func (e *Evaluator) evaluateSIPTrunks(ctx context.Context, t *types.Telemetry, device *types.Device, checks []types.MonitoringCheck, overrides types.AlertOverrides) {
	asterisk, ok := t.Extra[string(types.ModuleAsterisk)].(map[string]interface{})
	if !ok {
		return
	}
	raw, ok := asterisk["trunks"]
	if !ok {
		return
	}
	trunks, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	for trunkName, v := range trunks {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		registered, _ := m["registered"].(bool)

		if !registered {
			title := fmt.Sprintf("SIP trunk %s not registered", trunkName)
			if err := e.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
				DeviceID:        t.DeviceID,
				AlertType:       types.AlertSIPIssue,
				SpecificService: trunkName,
				Severity:        types.SeverityCritical,
				Title:           title,
				Message:         "sip_registration check failed",
				Overrides:       overrides,
			}); err != nil {
				e.logger.Error("failed to trigger sip registration alert", "device_id", t.DeviceID, "trunk", trunkName, "error", err)
			}
		} else {
			if err := e.alerter.ResolveIfActive(ctx, t.DeviceID, types.AlertSIPIssue, trunkName, ""); err != nil {
				e.logger.Error("failed to resolve sip registration alert", "device_id", t.DeviceID, "trunk", trunkName, "error", err)
			}
		}

		rtt, hasRTT := numericField(m, "rtt_ms")
		if hasSIPRTTCheck(checks, trunkName) {
			// Already evaluated through the generic check loop; only need to
			// resolve a stale alert if the trunk stopped reporting rtt_ms.
			if !hasRTT {
				if err := e.alerter.ResolveIfActive(ctx, t.DeviceID, types.AlertHighLatency, trunkName, ""); err != nil {
					e.logger.Error("failed to resolve sip latency alert", "device_id", t.DeviceID, "trunk", trunkName, "error", err)
				}
			}
			continue
		}

		threshold := deviceSIPRTTThreshold(device)
		if !hasRTT || threshold == nil {
			continue
		}
		if rtt >= *threshold {
			title := fmt.Sprintf("SIP trunk %s high latency", trunkName)
			message := fmt.Sprintf("rtt_ms is %.2f (threshold=%.2f)", rtt, *threshold)
			if err := e.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
				DeviceID:        t.DeviceID,
				AlertType:       types.AlertHighLatency,
				SpecificService: trunkName,
				Severity:        types.SeverityWarning,
				Title:           title,
				Message:         message,
				Overrides:       overrides,
			}); err != nil {
				e.logger.Error("failed to trigger sip latency alert", "device_id", t.DeviceID, "trunk", trunkName, "error", err)
			}
		} else {
			if err := e.alerter.ResolveIfActive(ctx, t.DeviceID, types.AlertHighLatency, trunkName, ""); err != nil {
				e.logger.Error("failed to resolve sip latency alert", "device_id", t.DeviceID, "trunk", trunkName, "error", err)
			}
		}
	}
}

func hasSIPRTTCheck(checks []types.MonitoringCheck, trunkName string) bool {
	for _, c := range checks {
		if c.CheckType == types.CheckSIPRTT && c.ServiceRef == trunkName {
			return true
		}
	}
	return false
}

func deviceSIPRTTThreshold(device *types.Device) *float64 {
	if device == nil {
		return nil
	}
	return device.SIPRTTThresholdMs
}
