package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ItemOptions selects what the pipeline retrieves for one work.
type ItemOptions struct {
	View ViewMode
	// Language, when set, drops works whose language differs.
	Language string
	// Bookmarks enables the bookmarks sub-walk.
	Bookmarks bool
	Headers   http.Header
}

// ItemOutcome is the result of processing one identifier. Exactly one of
// Record and Error is set unless Filtered is true, in which case neither is.
type ItemOutcome struct {
	Record   *Record
	Error    *ErrorEntry
	Filtered bool
	Attempts int
}

// ItemPipeline fetches and extracts a single work.
type ItemPipeline struct {
	fetcher   *RetryingFetcher
	bookmarks *RetryingFetcher
	extractor Extractor
	site      Site
	limiter   *RateLimiter
	logger    *zap.Logger
}

// NewItemPipeline wires a pipeline. bookmarks is the fetcher used for the
// bookmarks sub-walk and carries its own short retry budget.
func NewItemPipeline(
	fetcher *RetryingFetcher,
	bookmarks *RetryingFetcher,
	extractor Extractor,
	site Site,
	limiter *RateLimiter,
	logger *zap.Logger,
) *ItemPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bookmarks == nil {
		bookmarks = fetcher
	}
	return &ItemPipeline{
		fetcher:   fetcher,
		bookmarks: bookmarks,
		extractor: extractor,
		site:      site,
		limiter:   limiter,
		logger:    logger,
	}
}

// Process runs one identifier through fetch, extraction, filtering and the
// optional bookmarks sub-walk. The caller paces units; Process only waits on
// the limiter for bookmark pages. Per-item failures are reported in the
// outcome; the error is non-nil only when ctx ends processing.
func (p *ItemPipeline) Process(ctx context.Context, id Identifier, opts ItemOptions) (ItemOutcome, error) {
	logger := p.logger.With(zap.String("work_id", id.String()))
	workURL := p.site.WorkURL(id, opts.View)
	outcome, err := p.fetcher.Fetch(ctx, FetchRequest{URL: workURL, Headers: opts.Headers})
	if err != nil {
		return ItemOutcome{Attempts: outcome.Attempts}, err
	}
	result := ItemOutcome{Attempts: outcome.Attempts}
	if !outcome.OK() {
		logger.Warn("work fetch failed",
			zap.String("url", workURL),
			zap.String("reason", outcome.Reason()),
			zap.Int("attempts", outcome.Attempts),
		)
		result.Error = &ErrorEntry{ID: id, Reason: outcome.Reason()}
		return result, nil
	}

	fields, err := p.extractor.Work(outcome.Body, opts.View)
	switch {
	case errors.Is(err, ErrDenied):
		logger.Warn("work access denied", zap.String("url", workURL))
		result.Error = &ErrorEntry{ID: id, Reason: ReasonDenied}
		return result, nil
	case err != nil:
		logger.Warn("work extraction failed", zap.String("url", workURL), zap.Error(err))
		result.Error = &ErrorEntry{ID: id, Reason: fmt.Sprintf("extract: %v", err)}
		return result, nil
	}

	if lang := strings.TrimSpace(opts.Language); lang != "" && lang != fields.Stats.Language {
		logger.Info("work filtered by language",
			zap.String("want", opts.Language),
			zap.String("got", fields.Stats.Language),
		)
		result.Filtered = true
		return result, nil
	}

	var bookmarks []string
	if opts.Bookmarks {
		bookmarks, err = p.collectBookmarks(ctx, id, opts.Headers)
		if err != nil {
			return result, err
		}
	}

	record := Record{
		ID:        id,
		Title:     fields.Title,
		Authors:   fields.Authors,
		Tags:      fields.Tags,
		Stats:     fields.Stats,
		Kudos:     fields.Kudos,
		Bookmarks: bookmarks,
	}
	if opts.View.IncludesBody() {
		record.Body = fields.Body
	}
	result.Record = &record
	return result, nil
}

// collectBookmarks walks the bookmarks pages of a work. It has no quota and
// stops when the advertised last page is read or a page cannot be fetched,
// keeping whatever was collected so far.
func (p *ItemPipeline) collectBookmarks(ctx context.Context, id Identifier, headers http.Header) ([]string, error) {
	logger := p.logger.With(zap.String("work_id", id.String()))
	users := []string{}
	for page := 1; ; page++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return users, err
		}
		pageURL := p.site.BookmarksURL(id, page)
		outcome, err := p.bookmarks.Fetch(ctx, FetchRequest{URL: pageURL, Headers: headers})
		if err != nil {
			return users, err
		}
		if !outcome.OK() {
			logger.Warn("bookmarks page failed, keeping partial list",
				zap.Int("page", page),
				zap.String("reason", outcome.Reason()),
				zap.Int("collected", len(users)),
			)
			return users, nil
		}
		parsed, err := p.extractor.Bookmarks(outcome.Body)
		if err != nil {
			logger.Warn("bookmarks extraction failed", zap.Int("page", page), zap.Error(err))
			return users, nil
		}
		users = append(users, parsed.Users...)
		logger.Debug("bookmarks page collected",
			zap.Int("page", page),
			zap.Int("last_page", parsed.LastPage),
			zap.Int("users", len(parsed.Users)),
		)
		if page >= parsed.LastPage {
			return users, nil
		}
	}
}
