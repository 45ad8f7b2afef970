// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Persist stages observable through a StageMetricsRecorder.
const (
	MetricsStageTotal      = "total"
	MetricsStageChunkExec  = "chunk_exec"
	MetricsStageChunkRetry = "chunk_retry"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfb_batch_records_total",
		Help: "Records processed by target table and outcome.",
	}, []string{"target", "outcome"})
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfb_batch_chunks_total",
		Help: "Chunk statements executed by target table and outcome.",
	}, []string{"target", "outcome"})
)

// StageTiming describes one observed stage of a Persist call.
type StageTiming struct {
	Target   string
	Stage    string
	Duration time.Duration
	Count    int
	Attempt  int
	Error    bool
}

// StageMetricsRecorder receives per-stage timings when configured. The
// default engine records only the Prometheus counters above.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

// StageMetricsRecorderFunc adapts a function to StageMetricsRecorder.
type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (e *Engine) observeStage(ctx context.Context, target, stage string, start time.Time, count, attempt int, hadError bool) {
	if e.stageMetrics == nil {
		return
	}
	e.stageMetrics.ObserveStage(ctx, StageTiming{
		Target:   target,
		Stage:    stage,
		Duration: time.Since(start),
		Count:    count,
		Attempt:  attempt,
		Error:    hadError,
	})
}
