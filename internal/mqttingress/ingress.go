// Package mqttingress subscribes to the fleet's MQTT topic tree and routes
// inbound payloads to the consolidation, heartbeat, and rule-evaluation
// pipelines. It owns no business logic itself; it only parses topics and
// dispatches to a Handler. Payload field names and values are passed through
// unchanged: no legacy-alias normalization is applied here.
package mqttingress

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/fleetwatch/control-plane/pkg/types"
)

const topicPrefix = "iotmonitor/device/"

// Handler receives parsed, routed inbound events. internal/consolidator and
// internal/heartbeat implement the pieces of this interface that matter to
// them; cmd/server wires the composed implementation in.
type Handler interface {
	// HandleStatus processes a status topic payload. Retained messages never
	// trigger notifications; only a non-retained "offline" opens an alert
	// immediately.
	HandleStatus(ctx context.Context, deviceID string, status string, retained bool) error

	// HandleMetrics processes a metrics/<module> topic payload: raw JSON
	// fields to be merged into the current consolidation window.
	HandleMetrics(ctx context.Context, deviceID string, module types.Module, fields map[string]interface{}) error

	// HandleResponse processes a command-response payload for the terminal
	// relay. Non-goal surfaces (the relay transport itself) are not
	// implemented, but the routing hook stays so a relay can be bolted on.
	HandleResponse(ctx context.Context, deviceID string, payload []byte) error
}

// Config configures the broker connection.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive uint16
}

// Ingress manages the MQTT subscriber connection and dispatches inbound
// messages to a Handler.
type Ingress struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
}

// New creates an Ingress. Call Start to connect and begin routing messages.
func New(cfg Config, handler Handler, logger *slog.Logger) *Ingress {
	return &Ingress{cfg: cfg, handler: handler, logger: logger.With("component", "mqttingress")}
}

// Start connects to the broker and subscribes to the fleet topic tree. It
// blocks until ctx is cancelled.
func (in *Ingress) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(in.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	keepAlive := in.cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       keepAlive,
		ConnectUsername: in.cfg.Username,
		ConnectPassword: []byte(in.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			in.logger.Info("mqtt connected", "broker", in.cfg.BrokerURL)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			in.subscribe(subCtx, cm)
		},
		OnConnectError: func(err error) {
			in.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: in.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	in.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		in.route(ctx, pr.Packet.Topic, pr.Packet.Payload, pr.Packet.Retain)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		in.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop disconnects cleanly.
func (in *Ingress) Stop(ctx context.Context) error {
	if in.cm == nil {
		return nil
	}
	return in.cm.Disconnect(ctx)
}

func (in *Ingress) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	topics := []string{
		topicPrefix + "+/status",
		topicPrefix + "+/metrics/system",
		topicPrefix + "+/metrics/network",
		topicPrefix + "+/metrics/docker",
		topicPrefix + "+/metrics/asterisk",
		topicPrefix + "+/responses",
	}

	opts := make([]paho.SubscribeOptions, len(topics))
	for i, t := range topics {
		opts[i] = paho.SubscribeOptions{Topic: t, QoS: 1}
	}

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		in.logger.Error("mqtt subscribe failed", "error", err, "topics", topics)
		return
	}
	in.logger.Info("mqtt subscribed", "topics", topics)
}

// route parses a topic of the form iotmonitor/device/{id}/<rest> and
// dispatches the payload to the Handler. Parse errors and handler errors are
// logged rather than returned; a single malformed message must never take
// down the subscriber loop.
func (in *Ingress) route(ctx context.Context, topic string, payload []byte, retained bool) {
	deviceID, rest, ok := parseDeviceTopic(topic)
	if !ok {
		in.logger.Warn("mqtt message on unrecognized topic", "topic", topic)
		return
	}

	var err error
	switch {
	case rest == "status":
		err = in.handler.HandleStatus(ctx, deviceID, string(payload), retained)
	case strings.HasPrefix(rest, "metrics/"):
		module, ok := parseMetricsModule(rest)
		if !ok {
			in.logger.Warn("mqtt metrics message on unknown module", "topic", topic)
			return
		}
		var fields map[string]interface{}
		if jsonErr := json.Unmarshal(payload, &fields); jsonErr != nil {
			in.logger.Warn("mqtt metrics payload not valid json", "topic", topic, "error", jsonErr)
			return
		}
		err = in.handler.HandleMetrics(ctx, deviceID, module, fields)
	case rest == "responses":
		err = in.handler.HandleResponse(ctx, deviceID, payload)
	default:
		in.logger.Warn("mqtt message on unhandled topic", "topic", topic)
		return
	}

	if err != nil {
		in.logger.Error("mqtt message handling failed", "topic", topic, "device_id", deviceID, "error", err)
	}
}

func parseDeviceTopic(topic string) (deviceID, rest string, ok bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(topic, topicPrefix)
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

func parseMetricsModule(rest string) (types.Module, bool) {
	name := strings.TrimPrefix(rest, "metrics/")
	switch name {
	case "system":
		return types.ModuleSystem, true
	case "network":
		return types.ModuleNetwork, true
	case "docker":
		return types.ModuleDocker, true
	case "asterisk":
		return types.ModuleAsterisk, true
	default:
		return "", false
	}
}
