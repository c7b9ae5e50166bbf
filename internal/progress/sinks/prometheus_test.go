package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Mode: progress.ModeDiscover},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, URL: "u1", Found: 20, New: 18, Attempts: 1},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, URL: "u2", Found: 20, New: 20, Attempts: 2},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, URL: "u3", Attempts: 3},
		{
			RunID: runID,
			TS:    now.Add(15 * time.Second),
			Stage: progress.StageRunDone,
			Mode:  progress.ModeDiscover,
			Dur:   15 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("discover")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("discover", "success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.pages), 1e-9)
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.idsFound), 1e-9)
	require.InDelta(t, 38.0, testutil.ToFloat64(sink.idsNew), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "archive_crawler_run_runtime_seconds"))
}

func TestPrometheusSinkCountsUnitsByResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Mode: progress.ModeFetch},
		{RunID: runID, TS: now, Stage: progress.StageUnitDone, Unit: "1", Result: progress.ResultSuccess, Dur: time.Second},
		{RunID: runID, TS: now, Stage: progress.StageUnitDone, Unit: "2", Result: progress.ResultFailed, Reason: "http 404"},
		{RunID: runID, TS: now, Stage: progress.StageUnitDone, Unit: "3", Result: progress.ResultSuccess, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.units.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.units.WithLabelValues("failed")), 1e-9)

	errBatch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunError, Mode: progress.ModeFetch, Reason: "context canceled"},
	}
	require.NoError(t, sink.Consume(context.Background(), errBatch))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("fetch", "error")), 1e-9)
}

func TestNewPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
