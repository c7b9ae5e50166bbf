package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// WalkState is the terminal state of one pagination sequence.
type WalkState int

// Walk states. A walker is advancing until it ends in one of the others.
const (
	WalkAdvancing WalkState = iota
	WalkExhausted
	WalkQuotaReached
)

// String renders the state for logs and summaries.
func (s WalkState) String() string {
	switch s {
	case WalkAdvancing:
		return "advancing"
	case WalkExhausted:
		return "exhausted"
	case WalkQuotaReached:
		return "quota_reached"
	default:
		return "unknown"
	}
}

// WalkResult summarizes one pagination sequence.
type WalkResult struct {
	Pages     int
	Found     int
	Written   int
	Discarded int
	State     WalkState
}

// WalkerConfig tunes the listing-page attempt budget. Pages that fail or come
// back without identifiers are tried again; the transport below only repeats
// rate limited responses.
type WalkerConfig struct {
	// Attempts is the number of tries a page gets before the listing is
	// considered exhausted.
	Attempts int
	// AttemptBackoff is slept between page attempts.
	AttemptBackoff time.Duration
	// Headers are sent with every listing request.
	Headers http.Header
}

// DefaultWalkerConfig returns three attempts with a two second pause.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{Attempts: 3, AttemptBackoff: 2 * time.Second}
}

// PaginationWalker drives listing pages until the results run out or the
// quota is met, writing identifiers it has not seen before.
type PaginationWalker struct {
	fetcher   *RetryingFetcher
	extractor ListingExtractor
	limiter   *RateLimiter
	clock     Clock
	seen      *IdentifierSet
	sink      DiscoverySink
	cfg       WalkerConfig
	logger    *zap.Logger
	events    reporter
}

// NewPaginationWalker wires a walker. seen is shared across walks so that OR
// tag sequences never emit an identifier twice.
func NewPaginationWalker(
	fetcher *RetryingFetcher,
	extractor ListingExtractor,
	limiter *RateLimiter,
	clock Clock,
	seen *IdentifierSet,
	sink DiscoverySink,
	cfg WalkerConfig,
	logger *zap.Logger,
) *PaginationWalker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if seen == nil {
		seen = NewIdentifierSet()
	}
	return &PaginationWalker{
		fetcher:   fetcher,
		extractor: extractor,
		limiter:   limiter,
		clock:     clock,
		seen:      seen,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		events:    reporter{clock: clock},
	}
}

// WithProgress returns the walker reporting page events for runID.
func (w *PaginationWalker) WithProgress(emitter progress.Emitter, runID uuid.UUID) *PaginationWalker {
	cp := *w
	cp.events = newReporter(emitter, runID, w.clock)
	return &cp
}

// Walk advances cursor page by page. The quota is compared with the rows the
// sink has recorded since this walk began. A nil error means the walk reached
// a terminal state.
func (w *PaginationWalker) Walk(ctx context.Context, cursor *ListingCursor, quota Quota) (WalkResult, error) {
	result := WalkResult{State: WalkAdvancing}
	logger := w.logger.With(zap.String("quota", quota.String()))
	base := w.sink.Count()
	recorded := func() int { return w.sink.Count() - base }
	for {
		if quota.Reached(recorded()) {
			result.State = WalkQuotaReached
			logger.Info("listing quota reached", zap.Int("written", result.Written), zap.Int("pages", result.Pages))
			return result, nil
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return result, err
		}

		pageURL := cursor.URL()
		started := w.clock.Now()
		ids, attempts, err := w.fetchPage(ctx, pageURL)
		if errors.Is(err, ErrExhausted) {
			result.State = WalkExhausted
			logger.Info("listing exhausted",
				zap.String("url", pageURL),
				zap.Int("page", cursor.Page()),
				zap.Int("attempts", attempts),
				zap.Int("written", result.Written),
			)
			w.events.emit(progress.Event{
				Stage:    progress.StagePageDone,
				URL:      pageURL,
				Attempts: attempts,
				Dur:      w.clock.Now().Sub(started),
			})
			return result, nil
		}
		if err != nil {
			return result, err
		}

		result.Pages++
		result.Found += len(ids)
		fresh := w.seen.Filter(ids)
		written := 0
		for _, id := range fresh {
			if quota.Reached(recorded()) {
				result.Discarded++
				continue
			}
			if err := w.sink.WriteDiscovery(id, pageURL); err != nil {
				return result, fmt.Errorf("record identifier %s: %w", id, err)
			}
			result.Written++
			written++
		}
		logger.Info("listing page processed",
			zap.String("url", pageURL),
			zap.Int("page", cursor.Page()),
			zap.Int("found", len(ids)),
			zap.Int("duplicates", len(ids)-len(fresh)),
			zap.Int("written", written),
		)
		w.events.emit(progress.Event{
			Stage:    progress.StagePageDone,
			URL:      pageURL,
			Found:    len(ids),
			New:      written,
			Attempts: attempts,
			Dur:      w.clock.Now().Sub(started),
		})
		if quota.Reached(recorded()) {
			continue
		}
		cursor.Advance()
	}
}

// fetchPage returns the identifiers of one listing page. A page that fails
// or lists nothing on every attempt yields ErrExhausted. A page forbidden by
// robots.txt yields ErrBlocked at once.
func (w *PaginationWalker) fetchPage(ctx context.Context, pageURL string) ([]Identifier, int, error) {
	request := FetchRequest{URL: pageURL, Headers: w.cfg.Headers}
	for attempt := 1; attempt <= w.cfg.Attempts; attempt++ {
		outcome, err := w.fetcher.Fetch(ctx, request)
		if err != nil {
			return nil, attempt, err
		}
		if outcome.Kind == OutcomeBlocked {
			return nil, attempt, fmt.Errorf("listing page %s: %w", pageURL, ErrBlocked)
		}
		if outcome.OK() {
			ids, err := w.extractor.ListingIdentifiers(outcome.Body)
			switch {
			case err != nil:
				w.logger.Warn("listing extraction failed", zap.String("url", pageURL), zap.Error(err))
			case len(ids) > 0:
				return ids, attempt, nil
			}
		}
		w.logger.Info("listing page yielded no identifiers",
			zap.String("url", pageURL),
			zap.String("outcome", outcome.Kind.String()),
			zap.Int("status", outcome.StatusCode),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.cfg.Attempts),
		)
		if attempt < w.cfg.Attempts {
			if err := w.clock.Sleep(ctx, w.cfg.AttemptBackoff); err != nil {
				return nil, attempt, err
			}
		}
	}
	return nil, w.cfg.Attempts, ErrExhausted
}
