// Package result keeps a history of archival runs so operators can see what
// each run scanned, archived and skipped.
package result

import (
	"context"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/archive"
)

// Status is the outcome of a run
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one recorded archival run
type Run struct {
	RunID       string          `json:"run_id"`
	TriggerID   string          `json:"trigger_id"`
	Status      Status          `json:"status"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
	Report      *archive.Report `json:"report,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewRun builds the record of a finished run. report may be nil.
func NewRun(triggerID, runID string, report *archive.Report, err error) *Run {
	run := &Run{
		RunID:       runID,
		TriggerID:   triggerID,
		Status:      StatusCompleted,
		CompletedAt: time.Now().UTC(),
		Report:      report,
	}
	if report != nil {
		run.Duration = report.Duration
	}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	}
	return run
}

// IsFailed reports whether the run returned an error
func (r *Run) IsFailed() bool {
	return r.Status == StatusFailed
}

// Backend stores and retrieves run records
type Backend interface {
	// StoreRun records a finished run
	StoreRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by id.
	// Returns nil if the run doesn't exist or its record expired.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// Recent returns up to limit runs, newest first
	Recent(ctx context.Context, limit int) ([]*Run, error)
}
