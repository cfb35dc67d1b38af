package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fleetwatch/control-plane/pkg/types"
)

type fakeStore struct {
	channels []types.NotificationChannel
}

func (f *fakeStore) ListNotificationChannels(ctx context.Context) ([]types.NotificationChannel, error) {
	return f.channels, nil
}

type fakeCredentialStore struct {
	values map[string]string
}

func (f *fakeCredentialStore) Get(ctx context.Context, ref string) (string, error) {
	return f.values[ref], nil
}
func (f *fakeCredentialStore) Set(ctx context.Context, ref, value string) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[ref] = value
	return nil
}
func (f *fakeCredentialStore) Close() error { return nil }

type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingAdapter) Send(ctx context.Context, channel types.NotificationChannel, credential string, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, channel.ID)
	return nil
}

func TestBroadcastOnlySendsToMatchingChannels(t *testing.T) {
	creds := &fakeCredentialStore{values: map[string]string{"ref-1": "secret"}}
	d := New(&fakeStore{}, creds, slog.Default())
	adapter := &recordingAdapter{}
	d.adapters[types.ChannelWebhook] = adapter

	channels := []types.NotificationChannel{
		{ID: "ch-1", Name: "all", Type: types.ChannelWebhook, CredentialRef: "ref-1", Enabled: true},
		{ID: "ch-2", Name: "critical-only", Type: types.ChannelWebhook, CredentialRef: "ref-1", Enabled: true,
			Severities: []types.AlertSeverity{types.SeverityCritical}},
		{ID: "ch-3", Name: "disabled", Type: types.ChannelWebhook, CredentialRef: "ref-1", Enabled: false},
	}

	n := types.Notification{Title: "t", Severity: types.SeverityWarning}
	if err := d.Broadcast(context.Background(), n, channels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 1 || adapter.sent[0] != "ch-1" {
		t.Fatalf("expected only ch-1 to receive the notification, got %v", adapter.sent)
	}
}

func TestSlackAdapterPostsAttachment(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := &SlackAdapter{client: &http.Client{}, logger: slog.Default()}
	channel := types.NotificationChannel{ID: "ch-1", Name: "slack"}
	n := types.Notification{Title: "offline", Body: "gw-01 stopped reporting", Severity: types.SeverityCritical}

	if err := adapter.Send(context.Background(), channel, srv.URL, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody == "" {
		t.Fatal("expected a request body to be sent")
	}
}

func TestWebhookAdapterFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := &WebhookAdapter{client: &http.Client{}, logger: slog.Default()}
	channel := types.NotificationChannel{ID: "ch-1", Name: "webhook"}
	n := types.Notification{Title: "t"}

	if err := adapter.Send(context.Background(), channel, srv.URL, n); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}
