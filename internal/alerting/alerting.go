// Package alerting implements the alert lifecycle state machine: opening an
// alert the first time a problem is observed, escalating it if the problem
// worsens, and re-notifying on a cadence that backs off from critical (every
// 5 minutes) to warning (every 15 minutes, falling back to hourly after an
// hour) until the problem clears.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/control-plane/internal/cache"
	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface the alert lifecycle depends on.
type Store interface {
	GetActiveAlert(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) (*types.AlertTracking, error)
	// CreateAlert returns created=false when the partial unique index on
	// (device_id, alert_type, specific_service, specific_endpoint) already
	// has a non-resolved row (ON CONFLICT DO NOTHING raced against another
	// trigger), rather than erroring.
	CreateAlert(ctx context.Context, a *types.AlertTracking) (created bool, err error)
	EscalateAlert(ctx context.Context, alertID string, oldSeverity, newSeverity types.AlertSeverity) error
	RecordNotification(ctx context.Context, alertID string, notifiedAt time.Time, nextEligibleAt *time.Time, newState types.AlertState) error
	ListAlertsDueForNotification(ctx context.Context) ([]types.AlertTracking, error)
	GetSystemSettings(ctx context.Context) (types.SystemSettings, error)
	ResolveAlert(ctx context.Context, alertID, recoveryBundleKey string) error
	LinkAlertToIncident(ctx context.Context, alertID, incidentID string) error
}

// Notifier dispatches a rendered Notification to every channel configured to
// receive it.
type Notifier interface {
	Send(ctx context.Context, n types.Notification) error
}

// IncidentTracker is the narrow slice of internal/incidents this package
// needs to fold opened/resolved alerts into device-level incidents. It is
// optional: a Service with no tracker set still runs the full alert
// lifecycle, just without incident correlation.
type IncidentTracker interface {
	OnAlertOpened(ctx context.Context, alert *types.AlertTracking) (string, error)
	OnAlertResolved(ctx context.Context, deviceID, incidentID string) error
}

// Service implements the alert trigger/escalate/throttle state machine.
type Service struct {
	store     Store
	notifier  Notifier
	cache     *cache.Cache
	clock     clock.Clock
	logger    *slog.Logger
	incidents IncidentTracker

	stopCh chan struct{}
}

// New creates an alerting Service.
func New(store Store, notifier Notifier, c *cache.Cache, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		cache:    c,
		clock:    clk,
		logger:   logger.With("component", "alerting"),
		stopCh:   make(chan struct{}),
	}
}

// SetIncidentTracker wires incident correlation in. Mirrors the teacher's
// pattern of enabling an optional collaborator only once it is configured
// (see control-plane/cmd/server/main.go's SetResultBuffer).
func (s *Service) SetIncidentTracker(t IncidentTracker) {
	s.incidents = t
}

func activeKeyLockName(deviceID string, alertType types.AlertType, specificService, specificEndpoint string) string {
	return fmt.Sprintf("active:%s:%s:%s:%s", deviceID, alertType, specificService, specificEndpoint)
}

// TriggerAlert opens a new alert for the active key if none is active, or
// escalates the existing one if the new severity is higher. Escalation
// always notifies immediately, bypassing whatever throttle cadence the alert
// was on; a worsening problem should never wait for its next scheduled
// reminder.
func (s *Service) TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error {
	lockName := activeKeyLockName(p.DeviceID, p.AlertType, p.SpecificService, p.SpecificEndpoint)
	acquired := false
	for attempt := 0; attempt < 5; attempt++ {
		ok, err := s.cache.Lock(ctx, lockName, config.ActiveKeyLockTTL)
		if err != nil {
			return fmt.Errorf("acquire active-key lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !acquired {
		return fmt.Errorf("could not acquire active-key lock for %s", lockName)
	}
	defer s.cache.Unlock(ctx, lockName)

	existing, err := s.store.GetActiveAlert(ctx, p.DeviceID, p.AlertType, p.SpecificService, p.SpecificEndpoint)
	if err != nil {
		return fmt.Errorf("check for active alert: %w", err)
	}

	if existing == nil {
		return s.openAlert(ctx, p)
	}
	if p.Severity.Level() > existing.CurrentSeverity.Level() {
		return s.escalateAndNotify(ctx, existing, p)
	}
	return nil
}

func (s *Service) openAlert(ctx context.Context, p types.AlertTriggerParams) error {
	targetType := p.TargetType
	if targetType == "" {
		targetType = "device"
	}

	settings, err := s.store.GetSystemSettings(ctx)
	if err != nil {
		return fmt.Errorf("load system settings: %w", err)
	}
	repeat, duration := resolvePolicy(p.AlertType, p.Severity, p.Overrides, settings)

	a := &types.AlertTracking{
		ID:                      uuid.NewString(),
		DeviceID:                p.DeviceID,
		AlertType:               p.AlertType,
		SpecificService:         p.SpecificService,
		SpecificEndpoint:        p.SpecificEndpoint,
		InitialSeverity:         p.Severity,
		Title:                   p.Title,
		Message:                 p.Message,
		TargetType:              targetType,
		RepeatMinutes:           int(repeat / time.Minute),
		ThrottleDurationMinutes: int(duration / time.Minute),
	}

	created, err := s.store.CreateAlert(ctx, a)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if !created {
		// Another goroutine/process won the race against the partial unique
		// index between our lock acquisition and this insert; re-fetch and
		// treat it as the active row rather than erroring out.
		existing, err := s.store.GetActiveAlert(ctx, p.DeviceID, p.AlertType, p.SpecificService, p.SpecificEndpoint)
		if err != nil {
			return fmt.Errorf("re-fetch active alert after insert conflict: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("alert insert conflicted but no active row found for %s", a.ActiveKey())
		}
		if p.Severity.Level() > existing.CurrentSeverity.Level() {
			return s.escalateAndNotify(ctx, existing, p)
		}
		return nil
	}

	if s.incidents != nil {
		incidentID, err := s.incidents.OnAlertOpened(ctx, a)
		if err != nil {
			s.logger.Error("failed to correlate alert into an incident", "alert_id", a.ID, "error", err)
		} else if err := s.store.LinkAlertToIncident(ctx, a.ID, incidentID); err != nil {
			s.logger.Error("failed to link alert to incident", "alert_id", a.ID, "incident_id", incidentID, "error", err)
		}
	}

	return s.notifyAndSchedule(ctx, a.ID, p.DeviceID, p.AlertType, p.Severity, p.Title, p.Message, repeat)
}

func (s *Service) escalateAndNotify(ctx context.Context, existing *types.AlertTracking, p types.AlertTriggerParams) error {
	if err := s.store.EscalateAlert(ctx, existing.ID, existing.CurrentSeverity, p.Severity); err != nil {
		return fmt.Errorf("escalate alert %s: %w", existing.ID, err)
	}
	settings, err := s.store.GetSystemSettings(ctx)
	if err != nil {
		return fmt.Errorf("load system settings: %w", err)
	}
	repeat, _ := resolvePolicy(existing.AlertType, p.Severity, p.Overrides, settings)
	return s.notifyAndSchedule(ctx, existing.ID, existing.DeviceID, existing.AlertType, p.Severity, p.Title, p.Message, repeat)
}

func (s *Service) notifyAndSchedule(ctx context.Context, alertID, deviceID string, alertType types.AlertType, severity types.AlertSeverity, title, message string, repeat time.Duration) error {
	if err := s.send(ctx, deviceID, alertType, severity, title, message, types.KindAlert); err != nil {
		s.logger.Error("failed to send alert notification", "alert_id", alertID, "error", err)
	}

	now := s.clock.Now()
	next := now.Add(repeat)
	return s.store.RecordNotification(ctx, alertID, now, &next, types.AlertStateThrottling)
}

func (s *Service) send(ctx context.Context, deviceID string, alertType types.AlertType, severity types.AlertSeverity, title, message string, kind types.NotificationKind) error {
	n := types.Notification{
		Kind:      kind,
		Title:     title,
		Body:      message,
		Severity:  severity,
		AlertType: alertType,
		DeviceID:  deviceID,
		SentAt:    s.clock.Now(),
	}
	return s.notifier.Send(ctx, n)
}

// ResolveIfActive clears the active alert for a key, if one exists. Callers
// use this when a rule or synthetic check observes a value back within
// bounds, so the alert closes without waiting for the offline/recovery path.
func (s *Service) ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error {
	existing, err := s.store.GetActiveAlert(ctx, deviceID, alertType, specificService, specificEndpoint)
	if err != nil {
		return fmt.Errorf("check for active alert: %w", err)
	}
	if existing == nil {
		return nil
	}

	if err := s.store.ResolveAlert(ctx, existing.ID, ""); err != nil {
		return fmt.Errorf("resolve alert %s: %w", existing.ID, err)
	}

	if s.incidents != nil && existing.IncidentID != nil {
		if err := s.incidents.OnAlertResolved(ctx, deviceID, *existing.IncidentID); err != nil {
			s.logger.Error("failed to close incident on alert resolution", "alert_id", existing.ID, "incident_id", *existing.IncidentID, "error", err)
		}
	}

	title := fmt.Sprintf("%s resolved", existing.Title)
	if err := s.send(ctx, deviceID, alertType, existing.CurrentSeverity, title, "value returned within bounds", types.KindRecovery); err != nil {
		s.logger.Error("failed to send resolution notification", "alert_id", existing.ID, "error", err)
	}
	return nil
}

// resolvePolicy returns the (repeat, throttle duration) pair for an alert per
// spec.md's per-(alert_type, severity) decision table. Device-level overrides
// take precedence over the table, which takes precedence over
// SystemSettings' "other" defaults. A duration of 0 means "never drop to
// hourly_only" (rule_violation/high_latency at critical severity repeat on
// their own cadence indefinitely).
func resolvePolicy(alertType types.AlertType, severity types.AlertSeverity, overrides types.AlertOverrides, settings types.SystemSettings) (repeat, duration time.Duration) {
	switch {
	case alertType == types.AlertServiceDown:
		repeat, duration = 15*time.Minute, 60*time.Minute
	case alertType == types.AlertRuleViolation && severity == types.SeverityCritical:
		repeat, duration = 5*time.Minute, 0
	case alertType == types.AlertRuleViolation && severity == types.SeverityWarning:
		repeat, duration = 15*time.Minute, 60*time.Minute
	case alertType == types.AlertHighLatency && severity == types.SeverityCritical:
		repeat, duration = 5*time.Minute, 0
	case alertType == types.AlertHighLatency && severity == types.SeverityWarning:
		repeat, duration = 15*time.Minute, 60*time.Minute
	case alertType == types.AlertOffline:
		repeat, duration = 15*time.Minute, 60*time.Minute
	default:
		repeat, duration = settings.DefaultRepeat, settings.DefaultDuration
	}

	if overrides.RepeatIntervalMinutes != nil {
		repeat = time.Duration(*overrides.RepeatIntervalMinutes) * time.Minute
	}
	if overrides.ThrottlingDurationMinutes != nil {
		duration = time.Duration(*overrides.ThrottlingDurationMinutes) * time.Minute
	}
	return repeat, duration
}

// Start runs the throttle-queue sweep on config.ThrottleTickInterval until
// ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	go clock.RunTicker(ctx, s.clock, config.ThrottleTickInterval, s.stopCh, s.processThrottled)
}

// Stop halts the throttle-queue sweep.
func (s *Service) Stop() {
	close(s.stopCh)
}

// processThrottled re-notifies every alert whose next_eligible_at has
// passed, using the (alert_type, severity) cadence resolved and stored on
// the row when it was opened or last escalated. An alert whose throttle
// duration has elapsed since it was first triggered drops to the
// hourly_only cadence; a duration of 0 (e.g. critical rule_violation/
// high_latency) means the row never drops to hourly and keeps repeating on
// its own cadence for as long as it stays open.
func (s *Service) processThrottled(ctx context.Context) {
	due, err := s.store.ListAlertsDueForNotification(ctx)
	if err != nil {
		s.logger.Error("failed to list alerts due for notification", "error", err)
		return
	}

	now := s.clock.Now()
	for _, a := range due {
		newState := a.State
		cadence := time.Duration(a.RepeatMinutes) * time.Minute
		if cadence <= 0 {
			cadence = config.WarningNotifyCadence
		}

		throttleDuration := time.Duration(a.ThrottleDurationMinutes) * time.Minute
		if throttleDuration > 0 && now.Sub(a.TriggeredAt) > throttleDuration {
			newState = types.AlertStateHourlyOnly
			cadence = time.Hour
		}

		if err := s.send(ctx, a.DeviceID, a.AlertType, a.CurrentSeverity, a.Title, a.Message, types.KindAlert); err != nil {
			s.logger.Error("failed to send throttled alert notification", "alert_id", a.ID, "error", err)
			continue
		}

		next := now.Add(cadence)
		if err := s.store.RecordNotification(ctx, a.ID, now, &next, newState); err != nil {
			s.logger.Error("failed to record notification for throttled alert", "alert_id", a.ID, "error", err)
		}
	}
}
