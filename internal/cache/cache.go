// Package cache stores rendered upstream responses for routes with a
// cache TTL configured.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss indicates the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Entry is a cached upstream response.
type Entry struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
}

// Cache stores response entries under derived request keys.
type Cache interface {
	// Get returns the entry for a key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry with the given TTL.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the cache.
	Close() error
}

// IsCacheMiss reports whether the error is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
