package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// RunSnapshot is the live view of one run.
type RunSnapshot struct {
	RunID      uuid.UUID      `json:"run_id"`
	Mode       string         `json:"mode"`
	URL        string         `json:"url,omitempty"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Pages      int            `json:"pages"`
	Found      int            `json:"found"`
	Written    int            `json:"written"`
	Units      map[string]int `json:"units"`
	LastUnit   string         `json:"last_unit,omitempty"`
	Error      string         `json:"error,omitempty"`
	Runtime    float64        `json:"runtime_seconds"`
	finishedAt time.Time
}

// SnapshotSink keeps an in-memory view of recent runs for the status API.
type SnapshotSink struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*RunSnapshot
	limit int
}

// NewSnapshotSink retains at most limit runs; older finished runs are evicted
// first.
func NewSnapshotSink(limit int) *SnapshotSink {
	if limit <= 0 {
		limit = 16
	}
	return &SnapshotSink{runs: make(map[uuid.UUID]*RunSnapshot), limit: limit}
}

// Consume folds the batch into the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		run := s.runs[evt.RunID]
		if run == nil {
			run = &RunSnapshot{
				RunID:     evt.RunID,
				Mode:      string(evt.Mode),
				Status:    "running",
				StartedAt: evt.TS,
				Units:     make(map[string]int),
			}
			s.runs[evt.RunID] = run
		}
		run.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
			run.URL = evt.URL
		case progress.StagePageDone:
			if evt.Found > 0 {
				run.Pages++
			}
			run.Found += evt.Found
			run.Written += evt.New
		case progress.StageUnitDone:
			run.Units[string(evt.Result)]++
			run.LastUnit = evt.Unit
		case progress.StageRunDone:
			run.Status = "success"
			run.finishedAt = evt.TS
			run.Runtime = evt.Dur.Seconds()
		case progress.StageRunError:
			run.Status = "error"
			run.Error = evt.Reason
			run.finishedAt = evt.TS
			run.Runtime = evt.Dur.Seconds()
		}
	}
	s.evict()
	return nil
}

func (s *SnapshotSink) evict() {
	for len(s.runs) > s.limit {
		var oldest *RunSnapshot
		for _, run := range s.runs {
			if run.finishedAt.IsZero() {
				continue
			}
			if oldest == nil || run.finishedAt.Before(oldest.finishedAt) {
				oldest = run
			}
		}
		if oldest == nil {
			return
		}
		delete(s.runs, oldest.RunID)
	}
}

// Runs returns copies of the tracked runs, newest first.
func (s *SnapshotSink) Runs() []RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		cp.Units = make(map[string]int, len(run.Units))
		for k, v := range run.Units {
			cp.Units[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Run returns the snapshot for id.
func (s *SnapshotSink) Run(id uuid.UUID) (RunSnapshot, bool) {
	for _, run := range s.Runs() {
		if run.RunID == id {
			return run, true
		}
	}
	return RunSnapshot{}, false
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
