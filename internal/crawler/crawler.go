package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// Config holds the pacing and retry settings for a RunController. It is
// decoupled from Viper so the engine can be tested independently.
type Config struct {
	Delay          time.Duration
	ItemPolicy     RetryPolicy
	ListingPolicy  RetryPolicy
	BookmarkPolicy RetryPolicy
	Walker         WalkerConfig
}

// DefaultConfig returns the archive's published politeness settings.
func DefaultConfig() Config {
	return Config{
		Delay:          DefaultDelay,
		ItemPolicy:     DefaultItemPolicy(),
		ListingPolicy:  DefaultListingPolicy(),
		BookmarkPolicy: DefaultBookmarkPolicy(),
		Walker:         DefaultWalkerConfig(),
	}
}

// DiscoverRequest describes a discovery run over a listing query.
type DiscoverRequest struct {
	URL string
	// Tags are ORed into the query one at a time, each as its own sequence.
	Tags  []string
	Quota Quota
	// Prior holds identifiers already in the destination.
	Prior   []Identifier
	Headers http.Header
	Sink    DiscoverySink
}

// DiscoverSummary reports the outcome of a discovery run.
type DiscoverSummary struct {
	RunID   uuid.UUID
	Walks   []WalkResult
	Pages   int
	Written int
}

// FetchRunRequest describes a fetch run over known identifiers.
type FetchRunRequest struct {
	IDs []Identifier
	// Resume skips entries until this identifier is seen, inclusive.
	Resume  Identifier
	Options ItemOptions
	Records RecordSink
	Errors  ErrorSink
}

// FetchSummary reports the outcome of a fetch run.
type FetchSummary struct {
	RunID     uuid.UUID
	Total     int
	Skipped   int
	Processed int
	Succeeded int
	Failed    int
	Filtered  int
}

// RunController sequences discovery and fetch runs. One request is in flight
// at a time and every request after the first waits on the shared limiter.
type RunController struct {
	fetcher   Fetcher
	extractor Extractor
	site      Site
	clock     Clock
	limiter   *RateLimiter
	cfg       Config
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewRunController wires the engine around a raw fetcher and a site extractor.
func NewRunController(
	fetcher Fetcher,
	extractor Extractor,
	site Site,
	clock Clock,
	cfg Config,
	emitter progress.Emitter,
	logger *zap.Logger,
) *RunController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &RunController{
		fetcher:   fetcher,
		extractor: extractor,
		site:      site,
		clock:     clock,
		limiter:   NewRateLimiter(cfg.Delay, clock),
		cfg:       cfg,
		emitter:   emitter,
		logger:    logger,
	}
}

// Discover walks the listing query, or one derived query per tag, and writes
// every identifier not already in the destination.
func (c *RunController) Discover(ctx context.Context, req DiscoverRequest) (DiscoverSummary, error) {
	if req.Sink == nil {
		return DiscoverSummary{}, errors.New("discover: sink is required")
	}
	base, err := NewListingCursor(req.URL)
	if err != nil {
		return DiscoverSummary{}, fmt.Errorf("discover: %w", err)
	}
	runID := newRunID()
	events := newReporter(c.emitter, runID, c.clock)
	summary := DiscoverSummary{RunID: runID}
	logger := c.logger.With(zap.String("run_id", runID.String()), zap.String("mode", string(progress.ModeDiscover)))
	started := c.clock.Now()

	seen := NewIdentifierSet(req.Prior...)
	walker := NewPaginationWalker(
		NewRetryingFetcher(c.fetcher, c.cfg.ListingPolicy, c.clock, logger),
		c.extractor,
		c.limiter,
		c.clock,
		seen,
		req.Sink,
		c.walkerConfig(req.Headers),
		logger,
	).WithProgress(c.emitter, runID)

	cursors := []*ListingCursor{base}
	if tags := cleanTags(req.Tags); len(tags) > 0 {
		cursors = cursors[:0]
		for _, tag := range tags {
			cursors = append(cursors, base.WithTag(tag))
		}
	}
	logger.Info("discovery started",
		zap.String("url", req.URL),
		zap.String("quota", req.Quota.String()),
		zap.Int("sequences", len(cursors)),
		zap.Int("prior", seen.Len()),
	)
	events.emit(progress.Event{Stage: progress.StageRunStart, Mode: progress.ModeDiscover, URL: req.URL})

	for _, cursor := range cursors {
		result, err := walker.Walk(ctx, cursor, req.Quota)
		summary.Walks = append(summary.Walks, result)
		summary.Pages += result.Pages
		summary.Written += result.Written
		if err != nil {
			logger.Error("discovery aborted", zap.String("url", cursor.URL()), zap.Error(err))
			events.emit(progress.Event{
				Stage:  progress.StageRunError,
				Mode:   progress.ModeDiscover,
				URL:    req.URL,
				Reason: err.Error(),
				Dur:    c.clock.Now().Sub(started),
			})
			return summary, fmt.Errorf("discover: %w", err)
		}
		logger.Info("listing sequence finished",
			zap.String("state", result.State.String()),
			zap.Int("pages", result.Pages),
			zap.Int("written", result.Written),
		)
	}

	logger.Info("discovery finished", zap.Int("pages", summary.Pages), zap.Int("written", summary.Written))
	events.emit(progress.Event{
		Stage: progress.StageRunDone,
		Mode:  progress.ModeDiscover,
		URL:   req.URL,
		New:   summary.Written,
		Dur:   c.clock.Now().Sub(started),
	})
	return summary, nil
}

// Fetch processes ids in order. Entries before the resume marker are
// skipped; duplicates are processed each time they appear. Per-item failures
// go to the error sink and never end the run. An empty list is a finished run.
func (c *RunController) Fetch(ctx context.Context, req FetchRunRequest) (FetchSummary, error) {
	if req.Records == nil || req.Errors == nil {
		return FetchSummary{}, errors.New("fetch: record and error sinks are required")
	}
	runID := newRunID()
	events := newReporter(c.emitter, runID, c.clock)
	summary := FetchSummary{RunID: runID, Total: len(req.IDs)}
	logger := c.logger.With(zap.String("run_id", runID.String()), zap.String("mode", string(progress.ModeFetch)))
	started := c.clock.Now()

	pipeline := NewItemPipeline(
		NewRetryingFetcher(c.fetcher, c.cfg.ItemPolicy, c.clock, logger),
		NewRetryingFetcher(c.fetcher, c.cfg.BookmarkPolicy, c.clock, logger),
		c.extractor,
		c.site,
		c.limiter,
		logger,
	)
	logger.Info("fetch started", zap.Int("total", summary.Total), zap.String("resume", req.Resume.String()))
	if summary.Total == 0 {
		logger.Warn("input lists no work identifiers")
	}
	events.emit(progress.Event{Stage: progress.StageRunStart, Mode: progress.ModeFetch})

	found := req.Resume == ""
	for _, id := range req.IDs {
		if !found && id == req.Resume {
			found = true
		}
		if !found {
			summary.Skipped++
			logger.Debug("skipping already processed work", zap.String("work_id", id.String()))
			events.emit(progress.Event{Stage: progress.StageUnitDone, Unit: id.String(), Result: progress.ResultSkipped})
			continue
		}

		summary.Processed++
		logger.Info("processing work",
			zap.String("work_id", id.String()),
			zap.String("progress", fmt.Sprintf("%d/%d", summary.Processed, summary.Total)),
		)
		if err := c.limiter.Wait(ctx); err != nil {
			return c.abortFetch(events, summary, started, err)
		}
		unitStarted := c.clock.Now()
		outcome, err := pipeline.Process(ctx, id, req.Options)
		if err != nil {
			return c.abortFetch(events, summary, started, err)
		}

		evt := progress.Event{
			Stage:    progress.StageUnitDone,
			Unit:     id.String(),
			Attempts: outcome.Attempts,
		}
		switch {
		case outcome.Filtered:
			summary.Filtered++
			evt.Result = progress.ResultFiltered
		case outcome.Record != nil:
			if err := req.Records.WriteRecord(*outcome.Record); err != nil {
				logger.Error("record write failed", zap.String("work_id", id.String()), zap.Error(err))
				c.recordError(logger, req.Errors, ErrorEntry{ID: id, Reason: err.Error()})
				summary.Failed++
				evt.Result = progress.ResultFailed
				evt.Reason = err.Error()
				break
			}
			summary.Succeeded++
			evt.Result = progress.ResultSuccess
			logger.Info("work collected", zap.String("work_id", id.String()))
		case outcome.Error != nil:
			c.recordError(logger, req.Errors, *outcome.Error)
			summary.Failed++
			evt.Result = progress.ResultFailed
			evt.Reason = outcome.Error.Reason
		}
		evt.Dur = c.clock.Now().Sub(unitStarted)
		events.emit(evt)
	}

	if !found {
		logger.Warn("resume marker not found in input", zap.String("resume", req.Resume.String()))
	}
	logger.Info("fetch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("filtered", summary.Filtered),
		zap.Int("skipped", summary.Skipped),
	)
	events.emit(progress.Event{
		Stage: progress.StageRunDone,
		Mode:  progress.ModeFetch,
		New:   summary.Succeeded,
		Dur:   c.clock.Now().Sub(started),
	})
	return summary, nil
}

func (c *RunController) abortFetch(events reporter, summary FetchSummary, started time.Time, err error) (FetchSummary, error) {
	c.logger.Error("fetch aborted", zap.Int("processed", summary.Processed), zap.Error(err))
	events.emit(progress.Event{
		Stage:  progress.StageRunError,
		Mode:   progress.ModeFetch,
		Reason: err.Error(),
		Dur:    c.clock.Now().Sub(started),
	})
	return summary, fmt.Errorf("fetch: %w", err)
}

func (c *RunController) recordError(logger *zap.Logger, sink ErrorSink, entry ErrorEntry) {
	logger.Info("work failed", zap.String("work_id", entry.ID.String()), zap.String("reason", entry.Reason))
	if err := sink.WriteError(entry); err != nil {
		logger.Error("error sink write failed", zap.String("work_id", entry.ID.String()), zap.Error(err))
	}
}

func (c *RunController) walkerConfig(headers http.Header) WalkerConfig {
	cfg := c.cfg.Walker
	cfg.Headers = headers
	return cfg
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// reporter stamps progress events with the run ID and clock time.
type reporter struct {
	emitter progress.Emitter
	runID   uuid.UUID
	clock   Clock
}

func newReporter(emitter progress.Emitter, runID uuid.UUID, clock Clock) reporter {
	return reporter{emitter: emitter, runID: runID, clock: clock}
}

func (r reporter) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.clock.Now().UTC()
	r.emitter.Emit(evt)
}
