// Package consolidator merges telemetry payloads that arrive for the same
// device within a short window into a single reading before it is handed to
// the rule evaluator and the storage buffer. Devices can publish several
// partial updates across modules (system, network, docker, asterisk) within
// the same collection tick; without this step, each partial update would
// trigger its own rule evaluation and heartbeat bump, and a device could end
// up with several Telemetry rows for the same window instead of the one the
// storage schema expects.
package consolidator

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

// Sink receives a fully consolidated telemetry reading once its window
// closes.
type Sink interface {
	ConsolidatedTelemetry(ctx context.Context, t *types.Telemetry) error
}

// windowState is the in-progress merge buffer for one device's consolidation
// window, covering every module that reported within it. Fields holds the
// merged system/network scalars; Extra holds each module-specific
// sub-document keyed by module name, so a docker snapshot replacing wholesale
// never disturbs an asterisk trunk merge landing in the same window.
type windowState struct {
	Fields map[string]interface{} `json:"fields"`
	Extra  map[string]interface{} `json:"extra"`
}

// Consolidator merges metrics fields arriving for a device inside a rolling
// window into one Telemetry row, using Redis both as the shared merge buffer
// and as the distributed lock that elects exactly one replica to schedule the
// window's flush. This lets any number of control plane replicas share an
// MQTT subscription without double-flushing a window.
type Consolidator struct {
	cache  *cache.Cache
	clock  clock.Clock
	sink   Sink
	logger *slog.Logger
	window time.Duration
}

// New creates a Consolidator.
func New(c *cache.Cache, clk clock.Clock, sink Sink, logger *slog.Logger) *Consolidator {
	return &Consolidator{
		cache:  c,
		clock:  clk,
		sink:   sink,
		logger: logger.With("component", "consolidator"),
		window: config.ConsolidationWindow,
	}
}

// HandleMetrics merges incoming fields into the current window for deviceID.
// Docker payloads replace the window's docker sub-document wholesale (a
// container list is a complete snapshot, not a delta); asterisk payloads
// deep-merge per-trunk so that different trunks reported within the same
// window both survive; system/network payloads shallow-merge straight into
// the shared scalar Fields map. The merge key is scoped to (deviceID,
// windowKey) only, not module: every module reporting in the same window
// folds into the one Telemetry row that window produces.
func (c *Consolidator) HandleMetrics(ctx context.Context, deviceID string, module types.Module, fields map[string]interface{}) error {
	windowKey := c.bucketKey(c.clock.Now())
	mergeKey := fmt.Sprintf("merge:%s:%s", deviceID, windowKey)

	merged, err := c.mergeFields(ctx, mergeKey, module, fields)
	if err != nil {
		return fmt.Errorf("merge fields for %s/%s: %w", deviceID, module, err)
	}

	scheduleKey := fmt.Sprintf("schedule:%s:%s", deviceID, windowKey)
	won, err := c.cache.Lock(ctx, scheduleKey, config.ConsolidationLockTTL)
	if err != nil {
		return fmt.Errorf("acquire window schedule lock: %w", err)
	}
	if !won {
		return nil
	}

	go c.scheduleFlush(deviceID, windowKey, mergeKey, merged)
	return nil
}

func (c *Consolidator) mergeFields(ctx context.Context, mergeKey string, module types.Module, incoming map[string]interface{}) (windowState, error) {
	lockKey := mergeKey + ":rmw"
	acquired := false
	for attempt := 0; attempt < 5; attempt++ {
		ok, err := c.cache.Lock(ctx, lockKey, 500*time.Millisecond)
		if err != nil {
			return windowState{}, err
		}
		if ok {
			acquired = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !acquired {
		return windowState{}, fmt.Errorf("could not acquire window merge lock for %s", mergeKey)
	}
	defer c.cache.Unlock(ctx, lockKey)

	var existing windowState
	found, err := c.cache.GetJSON(ctx, mergeKey, &existing)
	if err != nil {
		return windowState{}, err
	}
	if !found {
		existing = windowState{Fields: map[string]interface{}{}, Extra: map[string]interface{}{}}
	}
	if existing.Fields == nil {
		existing.Fields = map[string]interface{}{}
	}
	if existing.Extra == nil {
		existing.Extra = map[string]interface{}{}
	}

	switch module {
	case types.ModuleDocker:
		// A container list is a complete snapshot, not a delta: replace
		// wholesale rather than merge.
		existing.Extra[string(types.ModuleDocker)] = incoming
	case types.ModuleAsterisk:
		existingAsterisk, _ := existing.Extra[string(types.ModuleAsterisk)].(map[string]interface{})
		existing.Extra[string(types.ModuleAsterisk)] = deepMergeAsterisk(existingAsterisk, incoming)
	default:
		for k, v := range incoming {
			existing.Fields[k] = v
		}
	}

	if err := c.cache.SetJSON(ctx, mergeKey, existing, c.window+time.Second); err != nil {
		return windowState{}, err
	}
	return existing, nil
}

// deepMergeAsterisk merges the "trunks" sub-map key by key so that two
// payloads reporting different trunks within the same window both survive,
// rather than the later payload overwriting the earlier one's trunks.
func deepMergeAsterisk(existing, incoming map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing))
	for k, v := range existing {
		merged[k] = v
	}

	existingTrunks, _ := merged["trunks"].(map[string]interface{})
	incomingTrunks, _ := incoming["trunks"].(map[string]interface{})

	for k, v := range incoming {
		if k == "trunks" {
			continue
		}
		merged[k] = v
	}

	if incomingTrunks != nil {
		trunks := make(map[string]interface{}, len(existingTrunks)+len(incomingTrunks))
		for k, v := range existingTrunks {
			trunks[k] = v
		}
		for k, v := range incomingTrunks {
			trunks[k] = v
		}
		merged["trunks"] = trunks
	} else if existingTrunks != nil {
		merged["trunks"] = existingTrunks
	}

	return merged
}

// scheduleFlush waits out the remainder of the window, then reads the final
// merged state back from Redis (in case later merges arrived after this
// goroutine captured `seed`) and hands the consolidated reading to the sink.
func (c *Consolidator) scheduleFlush(deviceID, windowKey, mergeKey string, seed windowState) {
	// A plain time.Sleep, not the injectable clock: this is a one-shot delay
	// timing out a single window, not a recurring cadence tick, and the fake
	// clock used in tests doesn't model sleeping goroutines.
	time.Sleep(c.window)

	ctx := context.Background()
	var final windowState
	found, err := c.cache.GetJSON(ctx, mergeKey, &final)
	if err != nil {
		c.logger.Error("failed reading final window state, using seed", "device_id", deviceID, "error", err)
		final = seed
	} else if !found {
		final = seed
	}

	t := &types.Telemetry{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Fields:     final.Fields,
		Extra:      final.Extra,
		ReceivedAt: c.clock.Now(),
		WindowKey:  windowKey,
	}

	if err := c.sink.ConsolidatedTelemetry(ctx, t); err != nil {
		c.logger.Error("failed to deliver consolidated telemetry", "device_id", deviceID, "error", err)
	}

	c.cache.Delete(ctx, mergeKey)
}

func (c *Consolidator) bucketKey(t time.Time) string {
	bucket := t.Truncate(c.window).Unix()
	return fmt.Sprintf("%d", bucket)
}
