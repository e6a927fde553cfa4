// Package ratelimit provides request rate limiting for the gateway.
// The default algorithm is a fixed window backed by an atomic counter
// store; a local token bucket variant is available for deployments
// without a shared store.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow records a request for the given key and reports whether it is
	// within the limit. The request is counted even when rejected.
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)

	// Reset clears the current window's state for the given key.
	Reset(ctx context.Context, key string, window time.Duration) error
}

// Limit represents a rate limit configuration.
type Limit struct {
	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration
}

// Algorithm names accepted in configuration.
const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"
)

// NoopLimiter always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never rejects.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(_ context.Context, _ string, limit Limit) (*Result, error) {
	return &Result{Allowed: true, Limit: limit.Requests, Remaining: limit.Requests}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(_ context.Context, _ string, _ time.Duration) error {
	return nil
}
