package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/ratelimit/store"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm
// over an atomic counter store. The counter is incremented before the
// limit comparison, so the request that trips the limit still counts
// toward the window.
type FixedWindowLimiter struct {
	store  store.Store
	logger observability.Logger
}

// FixedWindowOption is a functional option for the limiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithFixedWindowLogger sets the logger for the limiter.
func WithFixedWindowLogger(logger observability.Logger) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(s store.Store, opts ...FixedWindowOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		store:  s,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now, limit.Window)
	windowKey := fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())

	// One second of slack on the expiry absorbs clock skew between the
	// gateway and the store.
	count, err := l.store.IncrementWithExpiry(ctx, windowKey, 1, limit.Window+time.Second)
	if err != nil {
		return nil, err
	}

	allowed := count <= int64(limit.Requests)

	remaining := limit.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(limit.Window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	if !allowed {
		recordRejection(AlgorithmFixedWindow)
		l.logger.Debug("rate limit window exceeded",
			observability.String("key", key),
			observability.Int64("count", count),
			observability.Int("limit", limit.Requests),
		)
	}

	return &Result{
		Allowed:    allowed,
		Limit:      limit.Requests,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

// Reset implements Limiter. Older windows expire on their own; only the
// current window's counter needs deleting.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	windowKey := fmt.Sprintf("%s:fw:%d", key, l.windowStart(time.Now(), window).UnixNano())
	return l.store.Delete(ctx, windowKey)
}

func (l *FixedWindowLimiter) windowStart(t time.Time, window time.Duration) time.Time {
	windowNanos := window.Nanoseconds()
	if windowNanos <= 0 {
		return t
	}
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}
