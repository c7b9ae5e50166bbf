package crawler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultDelay is the pause between outbound requests the archive asks for.
const DefaultDelay = 5 * time.Second

// RateLimiter paces outbound requests to at most one per delay. The first
// call returns immediately; later calls block until delay has elapsed since
// the previous reservation.
type RateLimiter struct {
	limiter *rate.Limiter
	clock   Clock
	delay   time.Duration
}

// NewRateLimiter builds a limiter with a single-token bucket refilled every delay.
// A non-positive delay disables pacing.
func NewRateLimiter(delay time.Duration, clock Clock) *RateLimiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
		delay:   delay,
	}
}

// Delay returns the configured pacing interval.
func (l *RateLimiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}

// Wait blocks the caller until the next request may be issued.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	now := l.clock.Now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limit reservation refused")
	}
	if err := l.clock.Sleep(ctx, reservation.DelayFrom(now)); err != nil {
		reservation.CancelAt(l.clock.Now())
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
