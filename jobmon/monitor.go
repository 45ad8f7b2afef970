// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobmon defines the job-monitoring collaborator interface consumed
// by the ingestion core. The core emits start/progress/completion signals at
// batch and ingestion boundaries; the collaborator owns thresholds, alert
// routing, and persistence of job history.
package jobmon

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Job status constants reported through JobComplete.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job type constants for JobStart.
const (
	TypeIngestion   = "ingestion"
	TypeBatch       = "batch"
	TypeMaintenance = "maintenance"
)

// Monitor observes job lifecycle events. Implementations must be safe for
// concurrent use. A Monitor failure is an observability failure, never a
// business failure: callers log and continue.
type Monitor interface {
	// JobStart registers a new job and returns its identifier.
	JobStart(ctx context.Context, name, jobType string) (uuid.UUID, error)

	// JobProgress reports running counters for a job.
	JobProgress(ctx context.Context, id uuid.UUID, processed, success, failed int) error

	// JobComplete marks a job terminal. jobErr is nil unless status is StatusFailed.
	JobComplete(ctx context.Context, id uuid.UUID, status string, jobErr error) error
}

// NopMonitor discards all events.
type NopMonitor struct{}

func (NopMonitor) JobStart(context.Context, string, string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (NopMonitor) JobProgress(context.Context, uuid.UUID, int, int, int) error { return nil }

func (NopMonitor) JobComplete(context.Context, uuid.UUID, string, error) error { return nil }

// LogMonitor writes job events to a structured logger. It is the default
// collaborator when no external monitoring subsystem is wired in.
type LogMonitor struct {
	logger *slog.Logger
}

func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger}
}

func (m *LogMonitor) JobStart(_ context.Context, name, jobType string) (uuid.UUID, error) {
	id := uuid.New()
	m.logger.Info("Job started", "job_id", id, "name", name, "type", jobType)
	return id, nil
}

func (m *LogMonitor) JobProgress(_ context.Context, id uuid.UUID, processed, success, failed int) error {
	m.logger.Debug("Job progress", "job_id", id, "processed", processed, "success", success, "failed", failed)
	return nil
}

func (m *LogMonitor) JobComplete(_ context.Context, id uuid.UUID, status string, jobErr error) error {
	if jobErr != nil {
		m.logger.Warn("Job completed", "job_id", id, "status", status, "error", jobErr)
		return nil
	}
	m.logger.Info("Job completed", "job_id", id, "status", status)
	return nil
}
