package license

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	assets   []types.LicenseAsset
	updates  map[string]types.LicenseAssetState
	settings types.SystemSettings
}

func (f *fakeStore) ListLicenseAssets(ctx context.Context) ([]types.LicenseAsset, error) {
	return f.assets, nil
}

func (f *fakeStore) UpdateLicenseState(ctx context.Context, id string, state types.LicenseAssetState, lastNotifiedBucket string, incidentID *string) error {
	if f.updates == nil {
		f.updates = make(map[string]types.LicenseAssetState)
	}
	f.updates[id] = state
	return nil
}

func (f *fakeStore) GetSystemSettings(ctx context.Context) (types.SystemSettings, error) {
	return f.settings, nil
}

type fakeNotifier struct{ sent []types.Notification }

func (f *fakeNotifier) Send(ctx context.Context, n types.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeIncidentTracker struct{ opened, resolved int }

func (f *fakeIncidentTracker) EnsureTargetIncident(ctx context.Context, targetType, targetID, summary string, severity types.AlertSeverity) (string, error) {
	f.opened++
	return "inc-" + targetID, nil
}

func (f *fakeIncidentTracker) ResolveTargetIncident(ctx context.Context, incidentID string) error {
	f.resolved++
	return nil
}

func TestStateForBuckets(t *testing.T) {
	cases := []struct {
		daysLeft int
		leadDays int
		want     types.LicenseAssetState
	}{
		{daysLeft: 30, leadDays: 14, want: types.LicenseStateOK},
		{daysLeft: 10, leadDays: 14, want: types.LicenseStateWarning},
		{daysLeft: 3, leadDays: 14, want: types.LicenseStateCritical},
		{daysLeft: -1, leadDays: 14, want: types.LicenseStateExpired},
	}
	for _, c := range cases {
		got := stateFor(c.daysLeft, c.leadDays)
		if got != c.want {
			t.Errorf("stateFor(%d, %d) = %s, want %s", c.daysLeft, c.leadDays, got, c.want)
		}
	}
}

func TestSweepNotifiesOnStateChange(t *testing.T) {
	clk := clock.New(time.UTC)
	store := &fakeStore{
		settings: types.DefaultSystemSettings(),
		assets: []types.LicenseAsset{
			{ID: "lic-1", Name: "SSL cert", RenewalDate: clk.Now().Add(5 * 24 * time.Hour), State: types.LicenseStateOK},
		},
	}
	notifier := &fakeNotifier{}
	tracker := &fakeIncidentTracker{}
	m := New(store, notifier, tracker, clk, slog.Default())

	m.sweep(context.Background())

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 reminder sent, got %d", len(notifier.sent))
	}
	if store.updates["lic-1"] != types.LicenseStateCritical {
		t.Errorf("expected state updated to critical, got %s", store.updates["lic-1"])
	}
	if tracker.opened != 1 {
		t.Errorf("expected 1 incident opened, got %d", tracker.opened)
	}
}

func TestSweepSkipsWhenAlreadyNotifiedThisBucket(t *testing.T) {
	clk := clock.New(time.UTC)
	bucket := clk.BucketKey(clk.Now(), false)
	store := &fakeStore{
		settings: types.DefaultSystemSettings(),
		assets: []types.LicenseAsset{
			{ID: "lic-1", Name: "SSL cert", RenewalDate: clk.Now().Add(5 * 24 * time.Hour),
				State: types.LicenseStateCritical, LastNotifiedBucket: bucket},
		},
	}
	notifier := &fakeNotifier{}
	tracker := &fakeIncidentTracker{}
	m := New(store, notifier, tracker, clk, slog.Default())

	m.sweep(context.Background())

	if len(notifier.sent) != 0 {
		t.Fatalf("expected no reminder, got %d", len(notifier.sent))
	}
}
