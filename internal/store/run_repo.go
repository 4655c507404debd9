// Package store declares the run-history repository shared by the progress
// sinks and the read API.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the pipeline_runs status column.
type RunStatus string

// Run statuses persisted in pipeline_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// Run models one row of pipeline_runs.
type Run struct {
	ID           uuid.UUID       `json:"id"`
	Trigger      string          `json:"trigger"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Status       RunStatus       `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	IngestReport json.RawMessage `json:"ingest_report,omitempty"`
	EnrichReport json.RawMessage `json:"enrich_report,omitempty"`
}

// RunCompletion carries the terminal state of a run.
type RunCompletion struct {
	FinishedAt   time.Time
	Status       RunStatus
	ErrorMessage *string
	IngestReport json.RawMessage
	EnrichReport json.RawMessage
}

// RunRepository persists pipeline run history.
type RunRepository interface {
	// StartRun records a running row; repeating it for the same id is a no-op.
	StartRun(ctx context.Context, id uuid.UUID, trigger string, startedAt time.Time) error
	// CompleteRun stores the terminal status and reports.
	CompleteRun(ctx context.Context, id uuid.UUID, done RunCompletion) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
