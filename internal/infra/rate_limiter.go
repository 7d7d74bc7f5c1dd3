package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
)

// Category selects which rate-limit bucket an outbound call draws from.
// The brokerage protocol mandates separate ceilings per category.
type Category string

const (
	CategoryOrders     Category = "orders"
	CategoryLiveData   Category = "live_data"
	CategoryNonTrading Category = "non_trading"
)

// CategoryLimit configures one bucket.
type CategoryLimit struct {
	PerWindow int           // max calls per window
	Window    time.Duration // sliding window size
	MaxWait   time.Duration // 0 means fail fast when the window is full
}

// RateLimiterConfig holds per-category limits.
type RateLimiterConfig struct {
	Orders     CategoryLimit
	LiveData   CategoryLimit
	NonTrading CategoryLimit
}

// DefaultRateLimiterConfig returns conservative limits below the protocol
// maximums (orders 15/s, live data 10/s, non-trading 20/s).
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Orders:     CategoryLimit{PerWindow: 10, Window: time.Second, MaxWait: 2 * time.Second},
		LiveData:   CategoryLimit{PerWindow: 8, Window: time.Second, MaxWait: 2 * time.Second},
		NonTrading: CategoryLimit{PerWindow: 15, Window: time.Second, MaxWait: 2 * time.Second},
	}
}

type bucket struct {
	mu      sync.Mutex
	limit   CategoryLimit
	history []time.Time // call timestamps inside the current window
	total   int64
	delayed int64
}

// RateLimiter bounds outbound brokerage calls per category over a sliding
// window. Safe for concurrent acquisition from the live-order path and the
// GTT monitor simultaneously.
type RateLimiter struct {
	buckets map[Category]*bucket
	clock   domain.Clock
}

// NewRateLimiter creates a limiter with the given per-category limits.
func NewRateLimiter(cfg RateLimiterConfig, clock domain.Clock) *RateLimiter {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RateLimiter{
		buckets: map[Category]*bucket{
			CategoryOrders:     {limit: cfg.Orders},
			CategoryLiveData:   {limit: cfg.LiveData},
			CategoryNonTrading: {limit: cfg.NonTrading},
		},
		clock: clock,
	}
}

// Acquire takes one permit for the category, waiting up to the category's
// MaxWait for capacity. Returns domain.ErrRateLimited (wrapped) if capacity
// does not free in time, or ctx.Err() if the caller is cancelled first.
func (r *RateLimiter) Acquire(ctx context.Context, cat Category) error {
	b, ok := r.buckets[cat]
	if !ok {
		return fmt.Errorf("unknown rate limit category %q", cat)
	}

	deadline := r.clock.Now().Add(b.limit.MaxWait)
	delayedOnce := false

	for {
		wait, acquired := b.tryAcquire(r.clock.Now())
		if acquired {
			return nil
		}

		if !delayedOnce {
			b.mu.Lock()
			b.delayed++
			b.mu.Unlock()
			delayedOnce = true
		}

		now := r.clock.Now()
		if b.limit.MaxWait <= 0 || now.Add(wait).After(deadline) {
			return fmt.Errorf("%w: category %s over %d calls per %s", domain.ErrRateLimited, cat, b.limit.PerWindow, b.limit.Window)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a permit without waiting. Returns false when the
// category's window is full.
func (r *RateLimiter) TryAcquire(cat Category) bool {
	b, ok := r.buckets[cat]
	if !ok {
		return false
	}
	_, acquired := b.tryAcquire(r.clock.Now())
	return acquired
}

// tryAcquire prunes expired entries and either records the call or returns
// how long until the oldest entry leaves the window.
func (b *bucket) tryAcquire(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.limit.Window)
	i := 0
	for i < len(b.history) && !b.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.history = b.history[i:]
	}

	if len(b.history) < b.limit.PerWindow {
		b.history = append(b.history, now)
		b.total++
		return 0, true
	}

	wait := b.history[0].Add(b.limit.Window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// CategoryStats reports usage for one category.
type CategoryStats struct {
	Total       int64
	Delayed     int64
	CurrentRate int // calls inside the current window
	Limit       int
}

// Stats returns per-category usage counters.
func (r *RateLimiter) Stats() map[Category]CategoryStats {
	now := r.clock.Now()
	out := make(map[Category]CategoryStats, len(r.buckets))
	for cat, b := range r.buckets {
		b.mu.Lock()
		cutoff := now.Add(-b.limit.Window)
		current := 0
		for _, ts := range b.history {
			if ts.After(cutoff) {
				current++
			}
		}
		out[cat] = CategoryStats{
			Total:       b.total,
			Delayed:     b.delayed,
			CurrentRate: current,
			Limit:       b.limit.PerWindow,
		}
		b.mu.Unlock()
	}
	return out
}
