package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgw/apexgw/internal/ratelimit/store"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewFixedWindowLimiter(s)

	limit := Limit{Requests: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "client:route", limit)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i+1)
		assert.Equal(t, 3-(i+1), result.Remaining)
	}

	result, err := l.Allow(ctx, "client:route", limit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestFixedWindowRejectedRequestStillCounts(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewFixedWindowLimiter(s)

	limit := Limit{Requests: 1, Window: time.Minute}
	ctx := context.Background()

	result, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	// The rejected request is counted too: the window counter keeps
	// growing even while over the limit.
	for i := 0; i < 3; i++ {
		result, err = l.Allow(ctx, "k", limit)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	}
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewFixedWindowLimiter(s)

	limit := Limit{Requests: 1, Window: time.Minute}
	ctx := context.Background()

	result, err := l.Allow(ctx, "alice:/api/users", limit)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.Allow(ctx, "alice:/api/users", limit)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// A different client on the same route has its own window.
	result, err = l.Allow(ctx, "bob:/api/users", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewFixedWindowLimiter(s)

	limit := Limit{Requests: 1, Window: 50 * time.Millisecond}
	ctx := context.Background()

	result, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// Sleeping a full window guarantees crossing the aligned boundary.
	time.Sleep(60 * time.Millisecond)

	result, err = l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowReset(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewFixedWindowLimiter(s)

	limit := Limit{Requests: 1, Window: time.Minute}
	ctx := context.Background()

	_, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	result, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, "k", limit.Window))

	result, err = l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketAllowsBurstThenRejects(t *testing.T) {
	l := NewTokenBucketLimiter()
	defer l.Close()

	limit := Limit{Requests: 2, Window: time.Hour}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := l.Allow(ctx, "k", limit)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i+1)
	}

	result, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "alice:/api/users/*", Key("alice", "/api/users/*"))
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	l := NewNoopLimiter()
	for i := 0; i < 100; i++ {
		result, err := l.Allow(context.Background(), "k", Limit{Requests: 1, Window: time.Minute})
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}
