package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/util"
)

// StalenessFunc is called when a lookup failure forces the cache to serve
// a stale entry.
type StalenessFunc func(service string, age time.Duration, cause error)

// Cache wraps a Source with TTL caching. An entry older than the TTL
// triggers a synchronous refresh before being served; when the refresh
// fails the last good entry keeps being served and a staleness warning is
// raised. A lookup failure with no cached entry fails with
// ServiceDiscoveryUnavailable.
type Cache struct {
	source  Source
	ttl     time.Duration
	logger  observability.Logger
	onStale StalenessFunc

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// cacheEntry is the cached instance list for one service. The entry-level
// mutex serializes refreshes so concurrent expired lookups produce a
// single upstream query.
type cacheEntry struct {
	refreshMu sync.Mutex

	mu        sync.RWMutex
	instances []Instance
	fetchedAt time.Time
}

// CacheOption is a functional option for the cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger for the cache.
func WithCacheLogger(logger observability.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithStalenessFunc sets the staleness callback.
func WithStalenessFunc(fn StalenessFunc) CacheOption {
	return func(c *Cache) {
		c.onStale = fn
	}
}

// NewCache creates a TTL cache over the given discovery source.
func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := &Cache{
		source:  source,
		ttl:     ttl,
		logger:  observability.NopLogger(),
		entries: make(map[string]*cacheEntry),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetInstances returns the instances for a service, refreshing the cache
// entry synchronously when it is missing or expired.
func (c *Cache) GetInstances(ctx context.Context, service string) ([]Instance, error) {
	entry := c.entry(service)

	entry.mu.RLock()
	instances := entry.instances
	fetchedAt := entry.fetchedAt
	entry.mu.RUnlock()

	if !fetchedAt.IsZero() && time.Since(fetchedAt) < c.ttl {
		return instances, nil
	}

	return c.refresh(ctx, service, entry)
}

// refresh queries the source and replaces the entry. On failure it serves
// the last good value when one exists.
func (c *Cache) refresh(ctx context.Context, service string, entry *cacheEntry) ([]Instance, error) {
	entry.refreshMu.Lock()
	defer entry.refreshMu.Unlock()

	// Another request may have refreshed while this one waited.
	entry.mu.RLock()
	instances := entry.instances
	fetchedAt := entry.fetchedAt
	entry.mu.RUnlock()
	if !fetchedAt.IsZero() && time.Since(fetchedAt) < c.ttl {
		return instances, nil
	}

	fresh, err := c.source.Lookup(ctx, service)
	if err != nil {
		if fetchedAt.IsZero() {
			return nil, util.NewDiscoveryError(service, err)
		}

		age := time.Since(fetchedAt)
		c.logger.Warn("discovery refresh failed, serving stale instances",
			observability.String("service", service),
			observability.Duration("age", age),
			observability.Error(err),
		)
		if c.onStale != nil {
			c.onStale(service, age, err)
		}
		return instances, nil
	}

	fresh = normalize(fresh)

	entry.mu.Lock()
	entry.instances = fresh
	entry.fetchedAt = time.Now()
	entry.mu.Unlock()

	return fresh, nil
}

// entry returns the cache entry for a service, creating it if needed.
func (c *Cache) entry(service string) *cacheEntry {
	c.mu.RLock()
	entry, ok := c.entries[service]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok = c.entries[service]; ok {
		return entry
	}
	entry = &cacheEntry{}
	c.entries[service] = entry
	return entry
}

// StartBackgroundRefresh refreshes all known entries at the given interval
// until Stop is called. It never blocks request-path lookups: refreshes use
// the same per-entry serialization as the synchronous path.
func (c *Cache) StartBackgroundRefresh(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.refreshAll()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background refresh loop.
func (c *Cache) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Cache) refreshAll() {
	c.mu.RLock()
	services := make([]string, 0, len(c.entries))
	for service := range c.entries {
		services = append(services, service)
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, service := range services {
		if _, err := c.refresh(ctx, service, c.entry(service)); err != nil {
			c.logger.Warn("background discovery refresh failed",
				observability.String("service", service),
				observability.Error(err),
			)
		}
	}
}
