// Command server runs the fleet monitoring control plane: MQTT ingress,
// telemetry consolidation, rule evaluation, alert lifecycle management,
// synthetic/SSL probing, license and certificate renewal tracking, and the
// periodic fleet digest.
//
// # Usage
//
//	server --database-url postgres://localhost/fleetwatch --mqtt-broker-url tls://broker:8883
//
// # Configuration
//
// The server can be configured via a YAML file (--config), environment
// variables (FLEETWATCH_*), or command-line flags, in increasing precedence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetwatch/control-plane/db/migrate"
	"github.com/fleetwatch/control-plane/internal/alerting"
	"github.com/fleetwatch/control-plane/internal/buffer"
	"github.com/fleetwatch/control-plane/internal/cache"
	"github.com/fleetwatch/control-plane/internal/clock"
	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/internal/consolidator"
	"github.com/fleetwatch/control-plane/internal/heartbeat"
	"github.com/fleetwatch/control-plane/internal/incidents"
	"github.com/fleetwatch/control-plane/internal/license"
	"github.com/fleetwatch/control-plane/internal/mqttingress"
	"github.com/fleetwatch/control-plane/internal/notify"
	"github.com/fleetwatch/control-plane/internal/prober"
	"github.com/fleetwatch/control-plane/internal/rules"
	"github.com/fleetwatch/control-plane/internal/secrets"
	"github.com/fleetwatch/control-plane/internal/selfhealth"
	"github.com/fleetwatch/control-plane/internal/store"
	"github.com/fleetwatch/control-plane/internal/summary"
	"github.com/fleetwatch/control-plane/pkg/types"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("invalid timezone, falling back to UTC", "error", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), config.DatabasePingTimeout)
	db, err := store.New(connectCtx, cfg.Database.URL, logger)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// ctx governs every background service below; it only cancels on
	// shutdown signal, not on the one-shot connect/migrate timeouts above.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migCtx, migCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = migrate.Run(migCtx, db.Pool(), logger)
	migCancel()
	if err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	redisCache, err := cache.New(cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis")

	credentialStore, err := secrets.NewCredentialStore(secrets.ConfigFromEnv(cfg.Secrets.Backend, cfg.Secrets.Token), logger)
	if err != nil {
		logger.Error("failed to initialize credential store", "error", err)
		os.Exit(1)
	}

	wallClock := clock.New(loc)

	// Dispatcher is shared by every subsystem that sends a Notification.
	dispatcher := notify.New(db, credentialStore, logger)

	// Alert lifecycle + incident correlation.
	alertSvc := alerting.New(db, dispatcher, redisCache, wallClock, logger)
	incidentAgg := incidents.New(db, logger)
	alertSvc.SetIncidentTracker(incidentAgg)
	alertSvc.Start(ctx)
	defer alertSvc.Stop()
	logger.Info("alert lifecycle service started")

	// Heartbeat tracking + offline detection, using the alert service for
	// offline alerts and the dispatcher for recovery notifications.
	heartbeatSvc := heartbeat.New(db, alertSvc, &recoveryNotifierAdapter{dispatcher: dispatcher}, wallClock, logger)
	heartbeatSvc.Start(ctx)
	defer heartbeatSvc.Stop()
	logger.Info("heartbeat service started")

	// Rule evaluation runs against every consolidated telemetry reading.
	ruleEvaluator := rules.New(db, alertSvc, logger)

	// Telemetry write-behind: the consolidator hands each window off to a
	// Redis queue instantly, and the flusher bulk-loads it into Postgres on
	// its own cadence, decoupling MQTT ingest rate from database write rate.
	telemetryBuffer, err := buffer.NewTelemetryBuffer(cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to start telemetry buffer", "error", err)
		os.Exit(1)
	}
	defer telemetryBuffer.Close()
	telemetryFlusher := buffer.NewFlusher(telemetryBuffer, db.Pool(), logger)
	telemetryFlusher.Start()
	defer telemetryFlusher.Stop()

	// Telemetry consolidation, the sink for MQTT metrics payloads.
	telemetrySink := &telemetryAdapter{buffer: telemetryBuffer, rules: ruleEvaluator, logger: logger}
	consolidatorSvc := consolidator.New(redisCache, wallClock, telemetrySink, logger)

	// MQTT ingress, routed to consolidation/heartbeat/alerting.
	router := mqttingress.NewRouter(consolidatorSvc, heartbeatSvc, alertSvc, db, logger)
	ingress := mqttingress.New(mqttingress.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
	}, router, logger)

	ingressCtx, ingressCancel := context.WithCancel(context.Background())
	go func() {
		if err := ingress.Start(ingressCtx); err != nil {
			logger.Error("mqtt ingress stopped", "error", err)
		}
	}()
	defer ingressCancel()
	logger.Info("mqtt ingress started", "broker", cfg.MQTT.BrokerURL)

	// Synthetic HTTP/SSL probing.
	syntheticProber := prober.New(db, alertSvc, dispatcher, wallClock, logger)
	syntheticProber.Start(ctx)
	defer syntheticProber.Stop()
	logger.Info("synthetic prober started")

	// License + SSL renewal monitor and its weekly digest.
	licenseMonitor := license.New(db, dispatcher, incidentAgg, wallClock, logger)
	licenseMonitor.Start(ctx)
	defer licenseMonitor.Stop()

	weeklyDigest := license.NewWeeklyDigest(db, db, dispatcher, loc, logger)
	if err := weeklyDigest.Start(ctx); err != nil {
		logger.Error("failed to start weekly renewal digest", "error", err)
	} else {
		defer weeklyDigest.Stop()
	}
	logger.Info("license monitor started")

	// Periodic fleet digest, delivered to slack channels only.
	healthSampler := selfhealth.New()
	reporter := summary.New(db, &slackOnlyNotifier{dispatcher: dispatcher}, healthSampler, wallClock, logger)
	reporter.Start(ctx)
	defer reporter.Stop()
	logger.Info("fleet digest reporter started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	ingressCancel()
}

// telemetryAdapter implements consolidator.Sink: it queues the consolidated
// telemetry row for durable storage and hands it to the rule evaluator.
// Rule evaluation runs inline against the freshly consolidated reading
// rather than waiting for the buffer to flush, since a breached threshold
// must open an alert immediately regardless of write-behind latency.
type telemetryAdapter struct {
	buffer *buffer.TelemetryBuffer
	rules  *rules.Evaluator
	logger *slog.Logger
}

func (a *telemetryAdapter) ConsolidatedTelemetry(ctx context.Context, t *types.Telemetry) error {
	if err := a.buffer.Push(ctx, []types.Telemetry{*t}); err != nil {
		return fmt.Errorf("queue consolidated telemetry: %w", err)
	}
	if err := a.rules.Evaluate(ctx, t); err != nil {
		a.logger.Error("rule evaluation failed", "device_id", t.DeviceID, "window_key", t.WindowKey, "error", err)
	}
	return nil
}

// recoveryNotifierAdapter implements heartbeat.RecoveryNotifier by rendering
// a single "device back online" notification for the alerts a recovery
// resolved together.
type recoveryNotifierAdapter struct {
	dispatcher *notify.Dispatcher
}

func (a *recoveryNotifierAdapter) NotifyRecovery(ctx context.Context, device types.Device, bundleKey string, resolved []types.AlertTracking) error {
	n := types.Notification{
		Kind:     types.KindRecovery,
		Title:    fmt.Sprintf("%s is back online", device.Name),
		Body:     fmt.Sprintf("%d alert(s) cleared on recovery", len(resolved)),
		Severity: types.SeverityInfo,
		DeviceID: device.ID,
		SentAt:   time.Now(),
	}
	return a.dispatcher.Send(ctx, n)
}

// slackOnlyNotifier implements summary.Notifier, restricting the periodic
// fleet digest to slack-typed channels: a digest is informational and has no
// business paging an SMS channel or double-posting through a generic
// incoming webhook meant for structured alert payloads.
type slackOnlyNotifier struct {
	dispatcher *notify.Dispatcher
}

func (s *slackOnlyNotifier) Send(ctx context.Context, n types.Notification) error {
	return s.dispatcher.SendToChannelType(ctx, n, types.ChannelSlack)
}
