package incidents

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	openIncidents map[string]*types.Incident
	resolvedIDs   []string
	active        []types.AlertTracking
}

func (f *fakeStore) EnsureIncidentOpen(ctx context.Context, inc *types.Incident) (string, error) {
	for id, existing := range f.openIncidents {
		if existing.Key() == inc.Key() {
			existing.AlertIDs = append(existing.AlertIDs, inc.AlertIDs...)
			return id, nil
		}
	}
	id := "inc-" + inc.TargetID
	f.openIncidents[id] = inc
	return id, nil
}

func (f *fakeStore) ResolveIncident(ctx context.Context, incidentID string) error {
	f.resolvedIDs = append(f.resolvedIDs, incidentID)
	delete(f.openIncidents, incidentID)
	return nil
}

func (f *fakeStore) ListActiveAlertsForDevice(ctx context.Context, deviceID string) ([]types.AlertTracking, error) {
	return f.active, nil
}

func TestOnAlertOpenedCreatesIncident(t *testing.T) {
	store := &fakeStore{openIncidents: make(map[string]*types.Incident)}
	agg := New(store, slog.Default())

	alert := &types.AlertTracking{ID: "a1", DeviceID: "gw-01", AlertType: types.AlertOffline, CurrentSeverity: types.SeverityCritical}
	id, err := agg.OnAlertOpened(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty incident id")
	}
	if len(store.openIncidents) != 1 {
		t.Fatalf("expected 1 open incident, got %d", len(store.openIncidents))
	}
}

func TestOnAlertResolvedClosesIncidentWhenNoAlertsRemain(t *testing.T) {
	store := &fakeStore{openIncidents: map[string]*types.Incident{"inc-1": {ID: "inc-1"}}}
	agg := New(store, slog.Default())

	if err := agg.OnAlertResolved(context.Background(), "gw-01", "inc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.resolvedIDs) != 1 {
		t.Fatalf("expected incident to be resolved, got %v", store.resolvedIDs)
	}
}

func TestOnAlertResolvedKeepsIncidentOpenWithRemainingAlerts(t *testing.T) {
	store := &fakeStore{
		openIncidents: map[string]*types.Incident{"inc-1": {ID: "inc-1"}},
		active:        []types.AlertTracking{{ID: "a2", DeviceID: "gw-01"}},
	}
	agg := New(store, slog.Default())

	if err := agg.OnAlertResolved(context.Background(), "gw-01", "inc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.resolvedIDs) != 0 {
		t.Fatalf("expected incident to stay open, got resolved %v", store.resolvedIDs)
	}
}

func TestOnAlertOpenedUsesAlertTargetTypeAndSpecificFields(t *testing.T) {
	store := &fakeStore{openIncidents: make(map[string]*types.Incident)}
	agg := New(store, slog.Default())

	alert := &types.AlertTracking{
		ID: "a1", DeviceID: "check-1", AlertType: types.AlertServiceDown,
		CurrentSeverity: types.SeverityCritical, TargetType: "synthetic",
		SpecificService: "public site", SpecificEndpoint: "https://example.com",
	}
	_, err := agg.OnAlertOpened(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var inc *types.Incident
	for _, i := range store.openIncidents {
		inc = i
	}
	if inc == nil {
		t.Fatal("expected an incident to have been opened")
	}
	if inc.TargetType != "synthetic" {
		t.Errorf("expected target_type synthetic, got %s", inc.TargetType)
	}
	if !strings.Contains(inc.Summary, "public site") || !strings.Contains(inc.Summary, "https://example.com") {
		t.Errorf("expected summary to include specific service/endpoint, got %q", inc.Summary)
	}
}

func TestEnsureAndResolveTargetIncident(t *testing.T) {
	store := &fakeStore{openIncidents: make(map[string]*types.Incident)}
	agg := New(store, slog.Default())

	id, err := agg.EnsureTargetIncident(context.Background(), "license", "lic-1", "license lic-1 expiring", types.SeverityWarning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.openIncidents) != 1 {
		t.Fatalf("expected 1 open incident, got %d", len(store.openIncidents))
	}

	if err := agg.ResolveTargetIncident(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.resolvedIDs) != 1 {
		t.Fatalf("expected incident resolved, got %v", store.resolvedIDs)
	}
}
