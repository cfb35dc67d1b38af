package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetwatch/control-plane/internal/config"
	"github.com/fleetwatch/control-plane/pkg/types"
)

// Flusher reads consolidated telemetry from the Redis buffer and bulk-loads
// it into Postgres on its own cadence.
type Flusher struct {
	buffer   *TelemetryBuffer
	pool     *pgxpool.Pool
	logger   *slog.Logger
	interval time.Duration
	batch    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher creates a new buffer flusher.
func NewFlusher(buffer *TelemetryBuffer, pool *pgxpool.Pool, logger *slog.Logger) *Flusher {
	return &Flusher{
		buffer:   buffer,
		pool:     pool,
		logger:   logger.With("component", "buffer_flusher"),
		interval: config.BufferFlushInterval,
		batch:    config.BufferFlushBatchSize,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background flushing loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info("telemetry buffer flusher started", "interval", f.interval, "batch_size", f.batch)
}

// Stop stops the flusher and waits for the final flush to complete.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("telemetry buffer flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			f.flush()
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *Flusher) flush() {
	ctx := context.Background()

	size, err := f.buffer.Len(ctx)
	if err != nil {
		f.logger.Error("failed to get buffer size", "error", err)
		return
	}
	if size == 0 {
		return
	}

	rows, err := f.buffer.Pop(ctx, f.batch)
	if err != nil {
		f.logger.Error("failed to pop from buffer", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	start := time.Now()
	if err := f.copyRows(ctx, rows); err != nil {
		f.logger.Error("failed to copy telemetry to database", "error", err, "count", len(rows))
		return
	}

	f.logger.Info("flushed telemetry to database",
		"count", len(rows),
		"remaining", size-int64(len(rows)),
		"duration", time.Since(start),
	)
}

// copyRows uses a temp table + COPY for high-throughput bulk inserts,
// tolerating duplicate window keys via ON CONFLICT DO NOTHING.
func (f *Flusher) copyRows(ctx context.Context, rows []types.Telemetry) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE telemetry_staging (
			id UUID NOT NULL,
			device_id TEXT NOT NULL,
			fields JSONB NOT NULL,
			extra JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			window_key TEXT NOT NULL
		) ON COMMIT DROP
	`)
	if err != nil {
		return err
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		extra := r.Extra
		if extra == nil {
			extra = map[string]interface{}{}
		}
		copyRows[i] = []any{r.ID, r.DeviceID, r.Fields, extra, r.ReceivedAt, r.WindowKey}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"telemetry_staging"},
		[]string{"id", "device_id", "fields", "extra", "received_at", "window_key"},
		pgx.CopyFromRows(copyRows),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO telemetry (id, device_id, fields, extra, received_at, window_key)
		SELECT id, device_id, fields, extra, received_at, window_key
		FROM telemetry_staging
		ON CONFLICT (device_id, window_key) DO NOTHING
	`); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
