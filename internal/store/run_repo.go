package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one crawler invocation.
type Run struct {
	ID uuid.UUID
	// Mode is discover or fetch.
	Mode string
	// Query is the listing URL of a discovery run.
	Query     string
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
	Pages        int64
	Found        int64
	Written      int64
}

// Unit is one processed identifier of a fetch run.
type Unit struct {
	RunID    uuid.UUID
	Unit     string
	Result   string
	Reason   string
	Attempts int
	Duration time.Duration
	At       time.Time
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun inserts the run row; repeating it is a no-op.
	StartRun(ctx context.Context, run Run) error
	// AddPages applies listing page deltas to a run.
	AddPages(ctx context.Context, runID uuid.UUID, pages, found, written int64) error
	// RecordUnits appends processed units.
	RecordUnits(ctx context.Context, units []Unit) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
