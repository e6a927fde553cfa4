package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/apexgw/apexgw/internal/observability"
)

// TokenBucketLimiter implements local token bucket rate limiting. Unlike the
// fixed window limiter it keeps all state in process, so limits are per
// gateway instance rather than shared through a store.
type TokenBucketLimiter struct {
	logger observability.Logger

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	bucketTTL time.Duration
	stopCh    chan struct{}
	once      sync.Once
}

type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucketOption is a functional option for the limiter.
type TokenBucketOption func(*TokenBucketLimiter)

// WithTokenBucketLogger sets the logger for the limiter.
func WithTokenBucketLogger(logger observability.Logger) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.logger = logger
	}
}

// NewTokenBucketLimiter creates a new token bucket rate limiter. A background
// goroutine evicts buckets idle longer than ten minutes; call Close to stop it.
func NewTokenBucketLimiter(opts ...TokenBucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		logger:    observability.NopLogger(),
		buckets:   make(map[string]*bucketEntry),
		bucketTTL: 10 * time.Minute,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupLoop()

	return l
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		perSecond := float64(limit.Requests) / limit.Window.Seconds()
		entry = &bucketEntry{
			limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Requests),
		}
		l.buckets[key] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		recordRejection(AlgorithmTokenBucket)
	}

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:    allowed,
		Limit:      limit.Requests,
		Remaining:  remaining,
		ResetAfter: limit.Window,
	}, nil
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(_ context.Context, key string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
	return nil
}

// Close stops the cleanup goroutine.
func (l *TokenBucketLimiter) Close() error {
	l.once.Do(func() {
		close(l.stopCh)
	})
	return nil
}

func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *TokenBucketLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range l.buckets {
		if now.Sub(entry.lastAccess) > l.bucketTTL {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("evicted idle rate limit buckets",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.buckets)),
		)
	}
}
