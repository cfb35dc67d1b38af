// Package prober runs the periodic HTTP and SSL synthetic checks: hitting a
// configured URL on its own interval and independently inspecting the
// endpoint's certificate for upcoming expiry, regardless of whether the
// endpoint itself is ever monitored by a device's own MQTT telemetry.
package prober

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Store is the persistence surface the prober depends on.
type Store interface {
	ListSyntheticChecks(ctx context.Context) ([]types.SyntheticCheck, error)
	RecordProbeOutcome(ctx context.Context, checkID string, o *types.ProbeOutcome) error
	RecordSSLOutcome(ctx context.Context, checkID string, o *types.SSLOutcome) error
	GetSyntheticCheck(ctx context.Context, id string) (*types.SyntheticCheck, error)
	GetSystemSettings(ctx context.Context) (types.SystemSettings, error)
}

// Alerter is the slice of internal/alerting the prober depends on.
type Alerter interface {
	TriggerAlert(ctx context.Context, p types.AlertTriggerParams) error
	ResolveIfActive(ctx context.Context, deviceID string, alertType types.AlertType, specificService, specificEndpoint string) error
}

// Notifier sends a rendered notification outside the alert lifecycle, used
// here for the one-off "certificate renewed" message that isn't itself an
// alert firing or resolving.
type Notifier interface {
	Send(ctx context.Context, n types.Notification) error
}

// Prober runs every enabled SyntheticCheck on its own interval.
type Prober struct {
	store    Store
	alerter  Alerter
	notifier Notifier
	client   *http.Client
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	running  map[string]bool
	stopCh   chan struct{}
}

// New creates a Prober. SSL checks dial the endpoint directly rather than
// going through the HTTP client, since a redirect to a TLS-terminating proxy
// would otherwise hide the certificate the check is meant to inspect.
func New(store Store, alerter Alerter, notifier Notifier, clk clock.Clock, logger *slog.Logger) *Prober {
	return &Prober{
		store:    store,
		alerter:  alerter,
		notifier: notifier,
		client:   &http.Client{Timeout: config.DefaultHTTPTimeout},
		clock:    clk,
		logger:   logger.With("component", "prober"),
		running:  make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start launches one goroutine per enabled synthetic check, each on its own
// ticker driven by the check's configured interval, and re-reads the check
// list every config.OfflineScanInterval to pick up new/removed checks.
func (p *Prober) Start(ctx context.Context) {
	go clock.RunTicker(ctx, p.clock, config.OfflineScanInterval, p.stopCh, p.refresh)
}

// Stop halts every running check loop.
func (p *Prober) Stop() {
	close(p.stopCh)
}

func (p *Prober) refresh(ctx context.Context) {
	checks, err := p.store.ListSyntheticChecks(ctx)
	if err != nil {
		p.logger.Error("failed to list synthetic checks", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, check := range checks {
		if p.running[check.ID] {
			continue
		}
		p.running[check.ID] = true
		go p.runLoop(ctx, check)
	}
}

func (p *Prober) runLoop(ctx context.Context, check types.SyntheticCheck) {
	interval := check.Interval
	if interval <= 0 {
		interval = config.DefaultSyntheticInterval
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	p.probeOnce(ctx, check)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C():
			current, err := p.store.GetSyntheticCheck(ctx, check.ID)
			if err != nil {
				p.logger.Error("failed to reload synthetic check", "check_id", check.ID, "error", err)
				continue
			}
			if current == nil || current.Paused {
				p.mu.Lock()
				delete(p.running, check.ID)
				p.mu.Unlock()
				return
			}
			p.probeOnce(ctx, *current)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, check types.SyntheticCheck) {
	if check.HTTP {
		outcome := p.probeHTTP(ctx, check)
		if err := p.store.RecordProbeOutcome(ctx, check.ID, outcome); err != nil {
			p.logger.Error("failed to record probe outcome", "check_id", check.ID, "error", err)
		}
		p.evaluateHTTP(ctx, check, outcome)
	}
	if check.SSL {
		outcome := p.probeSSL(ctx, check)
		p.evaluateSSL(ctx, check, outcome)
		if err := p.store.RecordSSLOutcome(ctx, check.ID, outcome); err != nil {
			p.logger.Error("failed to record ssl outcome", "check_id", check.ID, "error", err)
		}
	}
}

func (p *Prober) probeHTTP(ctx context.Context, check types.SyntheticCheck) *types.ProbeOutcome {
	start := p.clock.Now()
	outcome := &types.ProbeOutcome{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL, nil)
	if err != nil {
		outcome.Error = fmt.Sprintf("build request: %v", err)
		return outcome
	}

	resp, err := p.client.Do(req)
	outcome.LatencyMs = float64(p.clock.Now().Sub(start).Milliseconds())
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	if check.ExpectedStatusCode != 0 && resp.StatusCode != check.ExpectedStatusCode {
		outcome.Error = fmt.Sprintf("expected status %d, got %d", check.ExpectedStatusCode, resp.StatusCode)
		return outcome
	}

	if check.ResponseMatch != "" && !responseMatches(resp, check.ResponseMatch) {
		outcome.Error = "response body did not match expected pattern"
		return outcome
	}

	outcome.Success = true
	return outcome
}

// responseMatches reads the response body and tests it against a pattern
// that may be a literal substring or, if it compiles as one, a regexp.
func responseMatches(resp *http.Response, pattern string) bool {
	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString(body)
	}
	return strings.Contains(body, pattern)
}

func (p *Prober) evaluateHTTP(ctx context.Context, check types.SyntheticCheck, outcome *types.ProbeOutcome) {
	alertType := types.AlertServiceDown
	if !outcome.Success {
		title := fmt.Sprintf("synthetic check %s failing", check.Name)
		msg := outcome.Error
		if msg == "" {
			msg = "probe did not succeed"
		}
		if err := p.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
			DeviceID:         check.ID,
			AlertType:        alertType,
			SpecificService:  check.Name,
			SpecificEndpoint: check.URL,
			Severity:         types.SeverityCritical,
			Title:            title,
			Message:          msg,
			TargetType:       "synthetic",
		}); err != nil {
			p.logger.Error("failed to trigger synthetic http alert", "check_id", check.ID, "error", err)
		}
		return
	}

	if err := p.alerter.ResolveIfActive(ctx, check.ID, alertType, check.Name, check.URL); err != nil {
		p.logger.Error("failed to resolve synthetic http alert", "check_id", check.ID, "error", err)
	}

	if check.LatencyWarningMs == nil && check.LatencyCriticalMs == nil {
		return
	}
	severity, breached := latencySeverity(outcome.LatencyMs, check.LatencyWarningMs, check.LatencyCriticalMs)
	if !breached {
		if err := p.alerter.ResolveIfActive(ctx, check.ID, types.AlertHighLatency, check.Name, check.URL); err != nil {
			p.logger.Error("failed to resolve synthetic latency alert", "check_id", check.ID, "error", err)
		}
		return
	}
	title := fmt.Sprintf("synthetic check %s latency high", check.Name)
	msg := fmt.Sprintf("latency %.0fms", outcome.LatencyMs)
	if err := p.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID:         check.ID,
		AlertType:        types.AlertHighLatency,
		SpecificService:  check.Name,
		SpecificEndpoint: check.URL,
		Severity:         severity,
		Title:            title,
		Message:          msg,
		TargetType:       "synthetic",
	}); err != nil {
		p.logger.Error("failed to trigger synthetic latency alert", "check_id", check.ID, "error", err)
	}
}

func latencySeverity(value float64, warning, critical *float64) (types.AlertSeverity, bool) {
	if critical != nil && value >= *critical {
		return types.SeverityCritical, true
	}
	if warning != nil && value >= *warning {
		return types.SeverityWarning, true
	}
	return "", false
}

func (p *Prober) probeSSL(ctx context.Context, check types.SyntheticCheck) *types.SSLOutcome {
	now := p.clock.Now()
	outcome := &types.SSLOutcome{CheckedAt: now}

	host := strings.TrimPrefix(strings.TrimPrefix(check.URL, "https://"), "http://")
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if !strings.Contains(host, ":") {
		host += ":443"
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: strings.Split(host, ":")[0]}}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok || len(tlsConn.ConnectionState().PeerCertificates) == 0 {
		outcome.Error = "no peer certificate presented"
		return outcome
	}

	cert := tlsConn.ConnectionState().PeerCertificates[0]
	outcome.NotAfter = cert.NotAfter
	outcome.Issuer = cert.Issuer.CommonName
	outcome.DaysToExpiry = int(cert.NotAfter.Sub(now).Hours() / 24)
	outcome.Valid = now.Before(cert.NotAfter)

	// A renewal is a new NotAfter more than an hour out from the previously
	// recorded one, not just clock jitter on an unchanged certificate. Once
	// detected, the fresh NotAfter becomes the new baseline for the next
	// probe, so a certificate is never reported as "renewed" twice in a row.
	switch {
	case check.LastSSLResult != nil && cert.NotAfter.Sub(check.LastSSLResult.NotAfter) > time.Hour:
		outcome.RenewalDetectedAt = &now
	case check.LastSSLResult != nil:
		outcome.LastReminderBucket = check.LastSSLResult.LastReminderBucket
	}

	return outcome
}

func (p *Prober) evaluateSSL(ctx context.Context, check types.SyntheticCheck, outcome *types.SSLOutcome) {
	if outcome.RenewalDetectedAt != nil {
		if err := p.alerter.ResolveIfActive(ctx, check.ID, types.AlertSSLExpiry, check.Name, check.URL); err != nil {
			p.logger.Error("failed to resolve ssl expiry alert", "check_id", check.ID, "error", err)
		}
		p.notifyRenewal(ctx, check, outcome)
		return
	}

	if outcome.Error != "" || !outcome.Valid {
		title := fmt.Sprintf("SSL certificate issue for %s", check.Name)
		msg := outcome.Error
		if msg == "" {
			msg = "certificate has expired"
		}
		if err := p.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
			DeviceID:         check.ID,
			AlertType:        types.AlertSSLExpiry,
			SpecificService:  check.Name,
			SpecificEndpoint: check.URL,
			Severity:         types.SeverityCritical,
			Title:            title,
			Message:          msg,
			TargetType:       "synthetic",
		}); err != nil {
			p.logger.Error("failed to trigger ssl expiry alert", "check_id", check.ID, "error", err)
		}
		return
	}

	settings, err := p.store.GetSystemSettings(ctx)
	if err != nil {
		p.logger.Error("failed to load system settings for ssl evaluation", "error", err)
		return
	}
	warningDays := settings.SSLExpiryWarningDays
	criticalDays := settings.SSLExpiryCriticalDays

	switch {
	case outcome.DaysToExpiry <= criticalDays:
		p.fireSSLReminder(ctx, check, outcome, types.SeverityCritical)
	case outcome.DaysToExpiry <= warningDays:
		p.fireSSLReminder(ctx, check, outcome, types.SeverityWarning)
	default:
		outcome.LastReminderBucket = ""
		if err := p.alerter.ResolveIfActive(ctx, check.ID, types.AlertSSLExpiry, check.Name, check.URL); err != nil {
			p.logger.Error("failed to resolve ssl expiry alert", "check_id", check.ID, "error", err)
		}
	}
}

// fireSSLReminder gates the expiry reminder to once per cadence bucket: daily
// while there's more than a day left, hourly once expiry is within a day, per
// the same bucketing internal/license uses for renewal reminders.
func (p *Prober) fireSSLReminder(ctx context.Context, check types.SyntheticCheck, outcome *types.SSLOutcome, severity types.AlertSeverity) {
	hourly := outcome.DaysToExpiry <= 1
	bucket := p.clock.BucketKey(p.clock.Now(), hourly)
	if bucket == outcome.LastReminderBucket {
		return
	}

	title := fmt.Sprintf("SSL certificate for %s expires in %d days", check.Name, outcome.DaysToExpiry)
	if err := p.alerter.TriggerAlert(ctx, types.AlertTriggerParams{
		DeviceID:         check.ID,
		AlertType:        types.AlertSSLExpiry,
		SpecificService:  check.Name,
		SpecificEndpoint: check.URL,
		Severity:         severity,
		Title:            title,
		TargetType:       "synthetic",
	}); err != nil {
		p.logger.Error("failed to trigger ssl expiry alert", "check_id", check.ID, "error", err)
		return
	}
	outcome.LastReminderBucket = bucket
}

// notifyRenewal sends the one-off "certificate renewed" message. This isn't
// the alert resolution notice (ResolveIfActive above closes the alert and
// sends its own recovery notification); it's a standalone heads-up that a new
// certificate is in place.
func (p *Prober) notifyRenewal(ctx context.Context, check types.SyntheticCheck, outcome *types.SSLOutcome) {
	if p.notifier == nil {
		return
	}
	n := types.Notification{
		Kind:      types.KindRecovery,
		Title:     fmt.Sprintf("SSL certificate for %s renewed", check.Name),
		Body:      fmt.Sprintf("new expiry: %s", outcome.NotAfter.Format("2006-01-02")),
		Severity:  types.SeverityInfo,
		AlertType: types.AlertSSLExpiry,
		SentAt:    p.clock.Now(),
	}
	if err := p.notifier.Send(ctx, n); err != nil {
		p.logger.Error("failed to send ssl renewal notification", "check_id", check.ID, "error", err)
	}
}
