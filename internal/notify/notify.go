// Package notify dispatches rendered Notifications to every configured
// NotificationChannel that matches, fanning out in parallel without letting
// one channel's failure block or cancel the others.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/internal/secrets"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Adapter sends a single rendered Notification through one channel.
type Adapter interface {
	Send(ctx context.Context, channel types.NotificationChannel, credential string, n types.Notification) error
}

// Store is the persistence surface the dispatcher depends on for channel
// routing.
type Store interface {
	ListNotificationChannels(ctx context.Context) ([]types.NotificationChannel, error)
}

// Dispatcher routes a Notification to every enabled channel whose filters
// match, resolving each channel's credential through secrets.CredentialStore
// and rate-limiting outbound sends per channel so a burst of alerts can't
// hammer a Slack webhook or SMTP relay.
type Dispatcher struct {
	store       Store
	credentials secrets.CredentialStore
	adapters    map[types.ChannelType]Adapter
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Dispatcher wired with the standard adapter set.
func New(store Store, credentials secrets.CredentialStore, logger *slog.Logger) *Dispatcher {
	logger = logger.With("component", "notify")
	httpClient := &http.Client{Timeout: config.DefaultHTTPTimeout}
	return &Dispatcher{
		store:       store,
		credentials: credentials,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		adapters: map[types.ChannelType]Adapter{
			types.ChannelSlack:   &SlackAdapter{client: httpClient, logger: logger},
			types.ChannelWebhook: &WebhookAdapter{client: httpClient, logger: logger},
			types.ChannelEmail:   &EmailAdapter{logger: logger},
			types.ChannelSMS:     &SMSAdapter{logger: logger},
		},
	}
}

// Send implements internal/alerting.Notifier, internal/heartbeat.RecoveryNotifier
// (via an adapter in cmd/server), and internal/license.Notifier: it resolves
// the currently enabled channels and broadcasts to the matching subset.
func (d *Dispatcher) Send(ctx context.Context, n types.Notification) error {
	channels, err := d.store.ListNotificationChannels(ctx)
	if err != nil {
		return fmt.Errorf("list notification channels: %w", err)
	}
	return d.Broadcast(ctx, n, channels)
}

// SendToChannelType behaves like Send but restricts delivery to channels of
// a single type. The fleet digest (internal/summary) uses this to reach only
// slack-typed channels, per the digest's "don't page on a summary" routing
// rule: a digest is informational and has no business going to SMS or a
// generic incoming webhook meant for alert payloads.
func (d *Dispatcher) SendToChannelType(ctx context.Context, n types.Notification, chType types.ChannelType) error {
	channels, err := d.store.ListNotificationChannels(ctx)
	if err != nil {
		return fmt.Errorf("list notification channels: %w", err)
	}
	var filtered []types.NotificationChannel
	for _, ch := range channels {
		if ch.Type == chType {
			filtered = append(filtered, ch)
		}
	}
	return d.Broadcast(ctx, n, filtered)
}

// Broadcast sends n to every channel in channels that matches its routing
// filters, in parallel, collecting (not propagating) per-channel failures.
func (d *Dispatcher) Broadcast(ctx context.Context, n types.Notification, channels []types.NotificationChannel) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, ch := range channels {
		if !ch.Matches(n.AlertType, n.Severity, nil) {
			continue
		}
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.sendOne(ctx, ch, n); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		d.logger.Error("one or more channels failed to receive notification", "failures", len(errs), "errors", errs)
	}
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, ch types.NotificationChannel, n types.Notification) error {
	adapter, ok := d.adapters[ch.Type]
	if !ok {
		return fmt.Errorf("no adapter registered for channel type %s", ch.Type)
	}

	limiter := d.limiterFor(ch.ID)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	credential, err := d.credentials.Get(ctx, ch.CredentialRef)
	if err != nil {
		return fmt.Errorf("resolve credential %s: %w", ch.CredentialRef, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, config.NotifySendTimeout)
	defer cancel()

	return adapter.Send(sendCtx, ch, credential, n)
}

func (d *Dispatcher) limiterFor(channelID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 5)
		d.limiters[channelID] = l
	}
	return l
}
