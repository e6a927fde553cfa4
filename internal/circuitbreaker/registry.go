package circuitbreaker

import (
	"sync"

	"github.com/apexgw/apexgw/internal/observability"
)

// Registry manages one circuit breaker per backend target, created lazily
// on first use.
type Registry struct {
	breakers sync.Map
	config   *Config
	logger   observability.Logger
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry(config *Config, logger observability.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		config: config,
		logger: logger,
	}
}

// GetOrCreate returns the breaker for a target, creating it if needed.
func (r *Registry) GetOrCreate(target string) *Breaker {
	if value, ok := r.breakers.Load(target); ok {
		return value.(*Breaker)
	}

	b := New(target, r.config, WithBreakerLogger(r.logger))

	actual, loaded := r.breakers.LoadOrStore(target, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("target", target),
	)

	return b
}

// Get returns the breaker for a target, or nil if none exists.
func (r *Registry) Get(target string) *Breaker {
	value, ok := r.breakers.Load(target)
	if !ok {
		return nil
	}
	return value.(*Breaker)
}

// Stats returns statistics for all breakers keyed by target.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*Breaker).Stats()
		return true
	})
	return stats
}

// ResetAll returns every breaker to the closed state.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value interface{}) bool {
		value.(*Breaker).Reset()
		return true
	})
}
