package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/progress"
	"github.com/JakeFAU/archive-crawler/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Page counters
// are collapsed per run and units are written once per batch to reduce write
// amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies a batch in order: run starts, then page and unit deltas,
// then run completions. It returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pages := make(map[uuid.UUID]*pageDelta)
	var order []uuid.UUID
	var units []store.Unit
	var completions []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			run := store.Run{
				ID:        evt.RunID,
				Mode:      string(evt.Mode),
				Query:     evt.URL,
				StartedAt: evt.TS,
				Status:    store.RunRunning,
			}
			if err := s.repo.StartRun(ctx, run); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePageDone:
			delta := pages[evt.RunID]
			if delta == nil {
				delta = &pageDelta{}
				pages[evt.RunID] = delta
				order = append(order, evt.RunID)
			}
			// The exhausted page is reported with nothing found.
			if evt.Found > 0 {
				delta.pages++
			}
			delta.found += int64(evt.Found)
			delta.written += int64(evt.New)
		case progress.StageUnitDone:
			units = append(units, store.Unit{
				RunID:    evt.RunID,
				Unit:     evt.Unit,
				Result:   string(evt.Result),
				Reason:   evt.Reason,
				Attempts: evt.Attempts,
				Duration: evt.Dur,
				At:       evt.TS,
			})
		case progress.StageRunDone, progress.StageRunError:
			completions = append(completions, evt)
		}
	}

	for _, runID := range order {
		delta := pages[runID]
		if delta.pages == 0 && delta.found == 0 {
			continue
		}
		if err := s.repo.AddPages(ctx, runID, delta.pages, delta.found, delta.written); err != nil {
			return fmt.Errorf("add pages: %w", err)
		}
	}
	if len(units) > 0 {
		if err := s.repo.RecordUnits(ctx, units); err != nil {
			return fmt.Errorf("record units: %w", err)
		}
	}
	for _, evt := range completions {
		status := store.RunSuccess
		var reason *string
		if evt.Stage == progress.StageRunError {
			status = store.RunError
			if evt.Reason != "" {
				r := evt.Reason
				reason = &r
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, reason); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type pageDelta struct {
	pages   int64
	found   int64
	written int64
}
