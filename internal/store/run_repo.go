// Package store declares interfaces for persisting job run history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("job run not found")

// RunStatus mirrors the job_runs status column.
type RunStatus string

// Run statuses persisted in job_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run models one execution of a coordinator job on this worker.
type Run struct {
	// JobID is the coordinator's job identifier.
	JobID string
	// RunID identifies the claim; a retried job gets a new run id.
	RunID string
	// Repo is the repository name from the payload.
	Repo string
	// WorkerID names the worker process that claimed the run.
	WorkerID string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is completed or failed.
	FinishedAt *time.Time
	// Status is running/completed/failed.
	Status RunStatus
	// Reason is the failure reason reported upstream.
	Reason *string
	// Fatal is true when the coordinator was told not to retry.
	Fatal bool
	// SizeBytes is the measured checkout footprint, when measured.
	SizeBytes *int64
}

// Completion carries the terminal fields of a run.
type Completion struct {
	FinishedAt time.Time
	Status     RunStatus
	Reason     *string
	Fatal      bool
	SizeBytes  *int64
}

// RunRepository persists job runs.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the running row.
	UpsertRunStart(ctx context.Context, run Run) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, jobID, runID string, done Completion) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, jobID, runID string) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
