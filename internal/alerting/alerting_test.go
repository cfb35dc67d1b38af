package alerting

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/fleetwatch/control-plane/internal/cache"
	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	alerts     map[string]*types.AlertTracking
	byKey      map[string]string
	settings   types.SystemSettings
	recordedAt []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		alerts:   make(map[string]*types.AlertTracking),
		byKey:    make(map[string]string),
		settings: types.DefaultSystemSettings(),
	}
}

func (f *fakeStore) GetActiveAlert(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) (*types.AlertTracking, error) {
	key := deviceID + "|" + string(alertType) + "|" + specificService + "|" + specificEndpoint
	id, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	a := *f.alerts[id]
	return &a, nil
}

func (f *fakeStore) CreateAlert(ctx context.Context, a *types.AlertTracking) (bool, error) {
	a.CurrentSeverity = a.InitialSeverity
	a.PeakSeverity = a.InitialSeverity
	a.State = types.AlertStateNew
	a.TriggeredAt = time.Now()
	f.alerts[a.ID] = a
	f.byKey[a.ActiveKey()] = a.ID
	return true, nil
}

func (f *fakeStore) EscalateAlert(ctx context.Context, alertID string, oldSeverity, newSeverity types.AlertSeverity) error {
	a := f.alerts[alertID]
	a.CurrentSeverity = newSeverity
	if newSeverity.Level() > a.PeakSeverity.Level() {
		a.PeakSeverity = newSeverity
	}
	return nil
}

func (f *fakeStore) RecordNotification(ctx context.Context, alertID string, notifiedAt time.Time, nextEligibleAt *time.Time, newState types.AlertState) error {
	a := f.alerts[alertID]
	a.NotificationCount++
	a.LastNotifiedAt = &notifiedAt
	a.NextEligibleAt = nextEligibleAt
	a.State = newState
	f.recordedAt = append(f.recordedAt, notifiedAt)
	return nil
}

func (f *fakeStore) ListAlertsDueForNotification(ctx context.Context) ([]types.AlertTracking, error) {
	var due []types.AlertTracking
	for _, a := range f.alerts {
		if (a.State == types.AlertStateThrottling || a.State == types.AlertStateHourlyOnly) &&
			a.NextEligibleAt != nil && !a.NextEligibleAt.After(time.Now()) {
			due = append(due, *a)
		}
	}
	return due, nil
}

func (f *fakeStore) GetSystemSettings(ctx context.Context) (types.SystemSettings, error) {
	return f.settings, nil
}

func (f *fakeStore) ResolveAlert(ctx context.Context, alertID, recoveryBundleKey string) error {
	a := f.alerts[alertID]
	a.State = types.AlertStateResolved
	delete(f.byKey, a.ActiveKey())
	return nil
}

func (f *fakeStore) LinkAlertToIncident(ctx context.Context, alertID, incidentID string) error {
	if a, ok := f.alerts[alertID]; ok {
		a.IncidentID = &incidentID
	}
	return nil
}

type fakeNotifier struct{ sent []types.Notification }

func (f *fakeNotifier) Send(ctx context.Context, n types.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New("redis://"+mr.Addr(), slog.Default())
	if err != nil {
		t.Fatalf("failed to create test cache: %v", err)
	}
	return c
}

func TestTriggerAlertOpensNewAlert(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	c := newTestCache(t)
	svc := New(store, notifier, c, clock.New(time.UTC), slog.Default())

	err := svc.TriggerAlert(context.Background(), types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertOffline, Severity: types.SeverityCritical,
		Title: "offline", Message: "no heartbeat",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Severity != types.SeverityCritical {
		t.Errorf("expected critical severity, got %s", notifier.sent[0].Severity)
	}
}

func TestTriggerAlertEscalatesAndRenotifies(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	c := newTestCache(t)
	svc := New(store, notifier, c, clock.New(time.UTC), slog.Default())

	ctx := context.Background()
	if err := svc.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertRuleViolation, SpecificService: "cpu",
		Severity: types.SeverityWarning, Title: "cpu high", Message: "cpu at 85%",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertRuleViolation, SpecificService: "cpu",
		Severity: types.SeverityCritical, Title: "cpu critical", Message: "cpu at 98%",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications (open + escalate), got %d", len(notifier.sent))
	}
	if notifier.sent[1].Severity != types.SeverityCritical {
		t.Errorf("expected escalation notification at critical severity, got %s", notifier.sent[1].Severity)
	}
}

func TestTriggerAlertDoesNotRenotifyOnSameOrLowerSeverity(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	c := newTestCache(t)
	svc := New(store, notifier, c, clock.New(time.UTC), slog.Default())

	ctx := context.Background()
	if err := svc.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertRuleViolation, SpecificService: "cpu",
		Severity: types.SeverityCritical, Title: "cpu critical", Message: "cpu at 98%",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertRuleViolation, SpecificService: "cpu",
		Severity: types.SeverityWarning, Title: "cpu high", Message: "cpu at 85%",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected only the initial notification, got %d", len(notifier.sent))
	}
}

type fakeIncidentTracker struct {
	opened   []*types.AlertTracking
	resolved []string
}

func (f *fakeIncidentTracker) OnAlertOpened(ctx context.Context, alert *types.AlertTracking) (string, error) {
	f.opened = append(f.opened, alert)
	return "incident-1", nil
}

func (f *fakeIncidentTracker) OnAlertResolved(ctx context.Context, deviceID, incidentID string) error {
	f.resolved = append(f.resolved, incidentID)
	return nil
}

func TestTriggerAlertCorrelatesIntoIncidentWhenTrackerWired(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	c := newTestCache(t)
	svc := New(store, notifier, c, clock.New(time.UTC), slog.Default())
	tracker := &fakeIncidentTracker{}
	svc.SetIncidentTracker(tracker)

	ctx := context.Background()
	if err := svc.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID: "gw-01", AlertType: types.AlertOffline, Severity: types.SeverityCritical,
		Title: "offline", Message: "no heartbeat",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracker.opened) != 1 {
		t.Fatalf("expected OnAlertOpened called once, got %d", len(tracker.opened))
	}

	got, err := store.GetActiveAlert(ctx, "gw-01", types.AlertOffline, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.IncidentID == nil || *got.IncidentID != "incident-1" {
		t.Fatalf("expected alert linked to incident-1, got %+v", got)
	}

	if err := svc.ResolveIfActive(ctx, "gw-01", types.AlertOffline, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracker.resolved) != 1 || tracker.resolved[0] != "incident-1" {
		t.Fatalf("expected OnAlertResolved(incident-1), got %v", tracker.resolved)
	}
}
