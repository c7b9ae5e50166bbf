// Package progress defines the event structures emitted by the crawl loop.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StagePageDone Stage = "PAGE_DONE"
	StageUnitDone Stage = "UNIT_DONE"
)

// Mode names the kind of run an event belongs to.
type Mode string

// Run modes.
const (
	ModeDiscover Mode = "discover"
	ModeFetch    Mode = "fetch"
)

// Result classifies a finished unit.
type Result string

// Unit results.
const (
	ResultSuccess  Result = "success"
	ResultFailed   Result = "failed"
	ResultFiltered Result = "filtered"
	ResultSkipped  Result = "skipped"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies one invocation of the crawler.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Mode is set on run events.
	Mode Mode
	// Unit is the identifier of the work for unit events.
	Unit string
	// URL is the listing page for page events or the query for run events.
	URL string
	// Result classifies unit completions.
	Result Result
	// Reason carries the failure reason for failed units and runs.
	Reason string
	// Found is the number of identifiers on a listing page.
	Found int
	// New is the number of identifiers written from a listing page.
	New int
	// Attempts is the number of fetch attempts spent on the unit or page.
	Attempts int
	// Dur is the wall time spent on the unit, page or run.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
		if e.Mode == "" {
			return errors.New("run events require mode")
		}
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
	case StageUnitDone:
		if e.Unit == "" {
			return errors.New("unit done requires unit")
		}
		if e.Result == "" {
			return errors.New("unit done requires result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
