// Package buffer provides a Redis-backed write-ahead buffer for consolidated
// telemetry. This decouples MQTT ingest rate from Postgres write rate,
// allowing the consolidator to acknowledge a window's merge instantly while
// the flusher batches rows into storage on its own cadence.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

const keyTelemetry = "fleetwatch:telemetry_queue"

// TelemetryBuffer provides Redis-backed buffering for consolidated telemetry.
type TelemetryBuffer struct {
	client *redis.Client
	logger *slog.Logger
}

// NewTelemetryBuffer creates a new Redis-backed telemetry buffer.
func NewTelemetryBuffer(redisURL string, logger *slog.Logger) (*TelemetryBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &TelemetryBuffer{client: client, logger: logger}, nil
}

// Push adds consolidated telemetry rows to the buffer.
func (b *TelemetryBuffer) Push(ctx context.Context, rows []types.Telemetry) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([]interface{}, len(rows))
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal telemetry row: %w", err)
		}
		values[i] = data
	}

	if err := b.client.LPush(ctx, keyTelemetry, values...).Err(); err != nil {
		return fmt.Errorf("push telemetry to redis: %w", err)
	}
	return nil
}

// Pop retrieves and removes up to maxRows rows from the buffer, FIFO.
func (b *TelemetryBuffer) Pop(ctx context.Context, maxRows int) ([]types.Telemetry, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, maxRows)
	for i := 0; i < maxRows; i++ {
		cmds[i] = pipe.RPop(ctx, keyTelemetry)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop telemetry from redis: %w", err)
	}

	rows := make([]types.Telemetry, 0, maxRows)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		var r types.Telemetry
		if err := json.Unmarshal(data, &r); err != nil {
			b.logger.Warn("failed to unmarshal buffered telemetry row", "error", err)
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Len returns the number of buffered rows.
func (b *TelemetryBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, keyTelemetry).Result()
}

// Close closes the Redis connection.
func (b *TelemetryBuffer) Close() error {
	return b.client.Close()
}
