package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the run,
// listing page and unit collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pages        prometheus.Counter
	idsFound     prometheus.Counter
	idsNew       prometheus.Counter
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	attempts     *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_crawler_runs_started_total",
			Help: "Total runs that have started, partitioned by mode.",
		}, []string{"mode"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_crawler_runs_completed_total",
			Help: "Total runs completed partitioned by mode and result.",
		}, []string{"mode", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archive_crawler_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_crawler_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		}, []string{"mode", "result"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_crawler_listing_pages_total",
			Help: "Listing pages processed.",
		}),
		idsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_crawler_identifiers_found_total",
			Help: "Identifiers seen on listing pages, including duplicates.",
		}),
		idsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_crawler_identifiers_written_total",
			Help: "Identifiers written to the discovery destination.",
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_crawler_units_total",
			Help: "Works processed partitioned by result.",
		}, []string{"result"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_crawler_unit_duration_seconds",
			Help:    "Time spent per work, including retries and the bookmarks walk.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 600},
		}, []string{"result"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_crawler_fetch_attempts",
			Help:    "Fetch attempts spent per page or work.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pages,
		s.idsFound,
		s.idsNew,
		s.units,
		s.unitDuration,
		s.attempts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StagePageDone:
		if evt.Found > 0 {
			s.pages.Inc()
		}
		s.idsFound.Add(float64(evt.Found))
		s.idsNew.Add(float64(evt.New))
		s.observeAttempts("page", evt.Attempts)
	case progress.StageUnitDone:
		result := string(evt.Result)
		s.units.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.unitDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		s.observeAttempts("unit", evt.Attempts)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	mode := string(evt.Mode)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(mode).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(mode, "success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(mode, "error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(string(evt.Mode), label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeAttempts(stage string, attempts int) {
	if attempts > 0 {
		s.attempts.WithLabelValues(stage).Observe(float64(attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
