package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds retries and picks a backoff per failure class.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RateLimitedRetries are extra retries spent only on 429 responses
	// before MaxRetries is drawn on.
	RateLimitedRetries int
	// RateLimitedBackoff is slept after a 429 response.
	RateLimitedBackoff time.Duration
	// StatusBackoff is slept after any other non-2xx response.
	StatusBackoff time.Duration
	// NetworkBackoff is slept after a transport error.
	NetworkBackoff time.Duration
}

// DefaultItemPolicy mirrors the archive's expectations for detail pages.
func DefaultItemPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		RateLimitedBackoff: 60 * time.Second,
		StatusBackoff:      30 * time.Second,
		NetworkBackoff:     5 * time.Second,
	}
}

// DefaultListingPolicy is the transport policy for listing pages. Only 429
// responses are retried here; the walker owns the per-page attempt budget.
func DefaultListingPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         0,
		RateLimitedRetries: 6,
		RateLimitedBackoff: 10 * time.Second,
		StatusBackoff:      2 * time.Second,
		NetworkBackoff:     2 * time.Second,
	}
}

// DefaultBookmarkPolicy is the short per-page budget of the bookmarks sub-walk.
func DefaultBookmarkPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         1,
		RateLimitedBackoff: 10 * time.Second,
		StatusBackoff:      2 * time.Second,
		NetworkBackoff:     2 * time.Second,
	}
}

// Backoff returns the wait before retrying after outcome.
func (p RetryPolicy) Backoff(outcome FetchOutcome) time.Duration {
	switch {
	case outcome.Kind == OutcomeNetworkError:
		return p.NetworkBackoff
	case outcome.StatusCode == http.StatusTooManyRequests:
		return p.RateLimitedBackoff
	default:
		return p.StatusBackoff
	}
}

// retryBudget tracks the retries spent by one Fetch call.
type retryBudget struct {
	policy  RetryPolicy
	retries int
	limited int
}

// take spends one retry for outcome and reports whether one was left.
func (b *retryBudget) take(outcome FetchOutcome) bool {
	if outcome.StatusCode == http.StatusTooManyRequests && b.limited < b.policy.RateLimitedRetries {
		b.limited++
		return true
	}
	if b.retries < b.policy.MaxRetries {
		b.retries++
		return true
	}
	return false
}

type retryState int

const (
	stateAttempt retryState = iota
	stateBackoff
	stateSuccess
	stateExhausted
)

// RetryingFetcher wraps a raw Fetcher with the bounded retry policy. It never
// classifies denial; that needs the page body and is left to extraction.
type RetryingFetcher struct {
	fetcher Fetcher
	policy  RetryPolicy
	clock   Clock
	logger  *zap.Logger
}

// NewRetryingFetcher builds a RetryingFetcher.
func NewRetryingFetcher(fetcher Fetcher, policy RetryPolicy, clock Clock, logger *zap.Logger) *RetryingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.MaxRetries = max(policy.MaxRetries, 0)
	policy.RateLimitedRetries = max(policy.RateLimitedRetries, 0)
	return &RetryingFetcher{
		fetcher: fetcher,
		policy:  policy,
		clock:   clock,
		logger:  logger,
	}
}

// Policy returns the configured policy.
func (f *RetryingFetcher) Policy() RetryPolicy {
	return f.policy
}

// Fetch issues at most MaxRetries+RateLimitedRetries+1 attempts and returns
// the outcome of the last one. Blocked URLs get a single attempt. The error is
// non-nil only when ctx ends the loop.
func (f *RetryingFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchOutcome, error) {
	var (
		state    = stateAttempt
		outcome  FetchOutcome
		attempts int
		backoff  time.Duration
		budget   = retryBudget{policy: f.policy}
	)
	for {
		switch state {
		case stateAttempt:
			if err := ctx.Err(); err != nil {
				return outcome, err
			}
			attempts++
			outcome = f.attempt(ctx, request)
			outcome.Attempts = attempts
			switch {
			case outcome.OK():
				state = stateSuccess
			case ctx.Err() != nil:
				return outcome, ctx.Err()
			case outcome.Kind == OutcomeBlocked, !budget.take(outcome):
				state = stateExhausted
			default:
				backoff = f.policy.Backoff(outcome)
				state = stateBackoff
			}
		case stateBackoff:
			f.logger.Warn("fetch failed, backing off",
				zap.String("url", request.URL),
				zap.String("outcome", outcome.Kind.String()),
				zap.Int("status", outcome.StatusCode),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", backoff),
				zap.Error(outcome.Err),
			)
			if err := f.clock.Sleep(ctx, backoff); err != nil {
				return outcome, err
			}
			state = stateAttempt
		case stateSuccess:
			return outcome, nil
		case stateExhausted:
			if outcome.Kind == OutcomeBlocked {
				f.logger.Warn("fetch blocked by robots.txt", zap.String("url", request.URL))
				return outcome, nil
			}
			f.logger.Warn("fetch retries exhausted",
				zap.String("url", request.URL),
				zap.String("outcome", outcome.Kind.String()),
				zap.Int("status", outcome.StatusCode),
				zap.Int("attempts", attempts),
			)
			return outcome, nil
		}
	}
}

func (f *RetryingFetcher) attempt(ctx context.Context, request FetchRequest) FetchOutcome {
	resp, err := f.fetcher.Fetch(ctx, request)
	if errors.Is(err, ErrBlocked) {
		return FetchOutcome{Kind: OutcomeBlocked, Err: err}
	}
	if err != nil {
		return FetchOutcome{Kind: OutcomeNetworkError, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return FetchOutcome{Kind: OutcomeSuccess, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return FetchOutcome{Kind: OutcomeTransientFailure, StatusCode: resp.StatusCode}
}
