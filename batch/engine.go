// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch implements the memory-aware, chunked UPSERT engine. It
// receives in-memory record batches, splits them into page-sized chunks,
// executes one multi-row statement per chunk through a scoped blocking
// connection, and retries failing chunks with exponential backoff before
// surfacing a per-batch Result.
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/aicc6/weather-flick-batch-sub000/dbpool"
	"github.com/aicc6/weather-flick-batch-sub000/jobmon"
)

// Execer is the slice of a leased connection the engine needs per chunk.
// *sql.Conn satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ConnSource provides scoped access to a blocking-mode connection. The
// production implementation is PoolSource; tests substitute a counting fake.
type ConnSource interface {
	WithConn(ctx context.Context, fn func(ex Execer) error) error
}

type poolSource struct {
	pool *dbpool.Pool
}

func (s poolSource) WithConn(ctx context.Context, fn func(ex Execer) error) error {
	return s.pool.WithBlocking(ctx, func(conn *sql.Conn) error {
		return fn(conn)
	})
}

// PoolSource adapts a dbpool.Pool into the engine's ConnSource.
func PoolSource(pool *dbpool.Pool) ConnSource {
	return poolSource{pool: pool}
}

// Config tunes chunking and retry behavior.
type Config struct {
	// ChunkSize is the maximum rows per statement.
	ChunkSize int `koanf:"chunk_size"`
	// MemoryCeilingMB bounds the estimated in-flight chunk footprint; when a
	// full chunk would exceed it, the effective chunk size shrinks.
	MemoryCeilingMB int `koanf:"memory_ceiling_mb"`
	// RetryAttempts is the total number of attempts per chunk.
	RetryAttempts int `koanf:"retry_attempts"`
	// RetryBaseDelay doubles on every retry.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 100
	}
	if c.MemoryCeilingMB <= 0 {
		c.MemoryCeilingMB = 64
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
}

// Engine persists record batches. One Engine serves many concurrent Persist
// calls for different targets; chunk execution within one call is always
// sequential to bound memory and avoid partial-order UPSERT conflicts on the
// same conflict key.
type Engine struct {
	src          ConnSource
	cfg          Config
	logger       *slog.Logger
	monitor      jobmon.Monitor
	stageMetrics StageMetricsRecorder

	mu        sync.Mutex
	stmtCache map[string]string // target|rows -> SQL text
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMonitor wires the job-monitoring collaborator. Monitor failures are
// logged and never abort a persist.
func WithMonitor(m jobmon.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithStageMetrics wires a per-stage timing recorder.
func WithStageMetrics(r StageMetricsRecorder) Option {
	return func(e *Engine) { e.stageMetrics = r }
}

// NewEngine builds a persistence engine over src.
func NewEngine(src ConnSource, cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("batch: ConnSource is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		src:       src,
		cfg:       cfg,
		logger:    logger,
		monitor:   jobmon.NopMonitor{},
		stmtCache: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Persist writes records to target and reports the outcome. An empty input
// returns an immediate zero-valued Result. A Result with Failed > 0 is a
// partial failure, not an error; the error return covers contract violations
// (invalid target) only.
func (e *Engine) Persist(ctx context.Context, target Target, records []Record) (*Result, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	result := &Result{Total: len(records)}

	chunkSize := e.effectiveChunkSize(target, records)

	jobID, jobErr := e.monitor.JobStart(ctx, target.Table, jobmon.TypeBatch)
	if jobErr != nil {
		e.logger.Warn("Job monitor start failed", "target", target.Table, "error", jobErr)
	}

	e.logger.Info("Persisting batch",
		"target", target.Table, "records", len(records), "chunk_size", chunkSize)

	for offset := 0; offset < len(records); offset += chunkSize {
		end := offset + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[offset:end]

		if err := e.persistChunk(ctx, target, chunk); err != nil {
			result.Failed += len(chunk)
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d-%d: %v", offset, end-1, err))
			recordsTotal.WithLabelValues(target.Table, "failed").Add(float64(len(chunk)))
			chunksTotal.WithLabelValues(target.Table, "failed").Inc()
			e.logger.Error("Chunk failed after retries",
				"target", target.Table, "offset", offset, "size", len(chunk), "error", err)
		} else {
			result.Successful += len(chunk)
			recordsTotal.WithLabelValues(target.Table, "success").Add(float64(len(chunk)))
			chunksTotal.WithLabelValues(target.Table, "success").Inc()
		}

		if err := e.monitor.JobProgress(ctx, jobID, result.Successful+result.Failed, result.Successful, result.Failed); err != nil {
			e.logger.Warn("Job monitor progress failed", "target", target.Table, "error", err)
		}
	}

	result.Elapsed = time.Since(start)
	e.observeStage(ctx, target.Table, MetricsStageTotal, start, result.Total, 1, result.Failed > 0)

	status := jobmon.StatusCompleted
	var completeErr error
	if result.Successful == 0 && result.Failed > 0 {
		status = jobmon.StatusFailed
		completeErr = fmt.Errorf("all %d records failed", result.Failed)
	}
	if err := e.monitor.JobComplete(ctx, jobID, status, completeErr); err != nil {
		e.logger.Warn("Job monitor completion failed", "target", target.Table, "error", err)
	}

	e.logger.Info("Batch persisted",
		"target", target.Table, "total", result.Total, "successful", result.Successful,
		"failed", result.Failed, "elapsed", result.Elapsed,
		"rate", fmt.Sprintf("%.1f/s", result.RecordsPerSecond()))
	return result, nil
}

// effectiveChunkSize starts from the configured chunk size and shrinks it
// when the estimated footprint of one full chunk would exceed the memory
// ceiling. The estimate samples one serialized record and multiplies by row
// count; shapes are homogeneous by caller contract, so one sample suffices.
func (e *Engine) effectiveChunkSize(target Target, records []Record) int {
	chunkSize := e.cfg.ChunkSize

	sample, err := json.Marshal(records[0])
	if err != nil || len(sample) == 0 {
		return chunkSize
	}

	ceilingBytes := e.cfg.MemoryCeilingMB << 20
	estimate := len(sample) * min(chunkSize, len(records))
	if estimate <= ceilingBytes {
		return chunkSize
	}

	shrunk := ceilingBytes / len(sample)
	if shrunk < 1 {
		shrunk = 1
	}
	e.logger.Warn("Batch exceeds memory ceiling, shrinking chunk",
		"target", target.Table, "record_bytes", len(sample),
		"chunk_size", chunkSize, "shrunk_to", shrunk)
	return shrunk
}

// persistChunk executes one multi-row UPSERT with up to RetryAttempts
// attempts. Each attempt leases its own scoped connection so a poisoned
// connection never survives into the retry.
func (e *Engine) persistChunk(ctx context.Context, target Target, chunk []Record) error {
	stmt := e.statementFor(target, len(chunk))
	args := flattenArgs(target, chunk)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := e.cfg.RetryBaseDelay << (attempt - 2) // base * 2^n
			retryStart := time.Now()
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
			e.observeStage(ctx, target.Table, MetricsStageChunkRetry, retryStart, len(chunk), attempt, false)
		}

		execStart := time.Now()
		var affected int64
		err := e.src.WithConn(ctx, func(ex Execer) error {
			res, execErr := ex.ExecContext(ctx, stmt, args...)
			if execErr != nil {
				return execErr
			}
			affected, _ = res.RowsAffected()
			return nil
		})
		e.observeStage(ctx, target.Table, MetricsStageChunkExec, execStart, len(chunk), attempt, err != nil)

		if err == nil {
			e.logger.Debug("Chunk applied",
				"target", target.Table, "rows", len(chunk), "affected", affected, "attempt", attempt)
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if !isRetryableSQLState(err) {
			return err
		}
		e.logger.Warn("Chunk attempt failed",
			"target", target.Table, "rows", len(chunk), "attempt", attempt, "error", err)
	}
	return lastErr
}

func (e *Engine) statementFor(target Target, nRows int) string {
	key := fmt.Sprintf("%s.%s|%d", target.Schema, target.Table, nRows)
	e.mu.Lock()
	defer e.mu.Unlock()
	if stmt, ok := e.stmtCache[key]; ok {
		return stmt
	}
	stmt := buildUpsert(target, nRows)
	e.stmtCache[key] = stmt
	return stmt
}
