package prober

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	settings types.SystemSettings
}

func (f *fakeStore) ListSyntheticChecks(ctx context.Context) ([]types.SyntheticCheck, error) {
	return nil, nil
}
func (f *fakeStore) RecordProbeOutcome(ctx context.Context, checkID string, o *types.ProbeOutcome) error {
	return nil
}
func (f *fakeStore) RecordSSLOutcome(ctx context.Context, checkID string, o *types.SSLOutcome) error {
	return nil
}
func (f *fakeStore) GetSyntheticCheck(ctx context.Context, id string) (*types.SyntheticCheck, error) {
	return nil, nil
}
func (f *fakeStore) GetSystemSettings(ctx context.Context) (types.SystemSettings, error) {
	return f.settings, nil
}

type fakeAlerter struct {
	triggered []string
	resolved  []string
}

func (f *fakeAlerter) TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error {
	f.triggered = append(f.triggered, string(p.AlertType))
	return nil
}

func (f *fakeAlerter) ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error {
	f.resolved = append(f.resolved, string(alertType))
	return nil
}

type fakeNotifier struct{ sent []types.Notification }

func (f *fakeNotifier) Send(ctx context.Context, n types.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func TestLatencySeverity(t *testing.T) {
	warn, crit := 200.0, 500.0
	sev, breached := latencySeverity(600, &warn, &crit)
	if !breached || sev != types.SeverityCritical {
		t.Fatalf("expected critical breach, got %v %v", sev, breached)
	}

	sev, breached = latencySeverity(300, &warn, &crit)
	if !breached || sev != types.SeverityWarning {
		t.Fatalf("expected warning breach, got %v %v", sev, breached)
	}

	_, breached = latencySeverity(50, &warn, &crit)
	if breached {
		t.Fatal("expected no breach under warning threshold")
	}
}

func TestProbeHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := New(&fakeStore{}, &fakeAlerter{}, &fakeNotifier{}, clock.New(time.UTC), slog.Default())
	check := types.SyntheticCheck{ID: "c1", Name: "test", URL: srv.URL, HTTP: true, ExpectedStatusCode: 200}

	outcome := p.probeHTTP(context.Background(), check)
	if !outcome.Success {
		t.Fatalf("expected success, got error %q", outcome.Error)
	}
}

func TestProbeHTTPUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(&fakeStore{}, &fakeAlerter{}, &fakeNotifier{}, clock.New(time.UTC), slog.Default())
	check := types.SyntheticCheck{ID: "c1", Name: "test", URL: srv.URL, HTTP: true, ExpectedStatusCode: 200}

	outcome := p.probeHTTP(context.Background(), check)
	if outcome.Success {
		t.Fatal("expected failure on unexpected status code")
	}
}

func TestEvaluateHTTPTriggersOnFailure(t *testing.T) {
	alerter := &fakeAlerter{}
	p := New(&fakeStore{}, alerter, &fakeNotifier{}, clock.New(time.UTC), slog.Default())
	check := types.SyntheticCheck{ID: "c1", Name: "test", URL: "http://example.invalid"}

	p.evaluateHTTP(context.Background(), check, &types.ProbeOutcome{Success: false, Error: "dial failed"})

	if len(alerter.triggered) != 1 {
		t.Fatalf("expected 1 triggered alert, got %d", len(alerter.triggered))
	}
}
