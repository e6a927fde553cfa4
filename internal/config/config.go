// Package config defines the gateway configuration model and its loader.
package config

import (
	"fmt"
	"time"
)

// Default values applied by Validate when fields are unset.
const (
	DefaultRateLimitRequests  = 100
	DefaultRateLimitWindow    = time.Minute
	DefaultFailureThreshold   = 5
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultDiscoveryTTL       = 30 * time.Second
	DefaultPoolCapacity       = 100
	DefaultPoolAcquireTimeout = 5 * time.Second
	DefaultPoolIdleTimeout    = 90 * time.Second
	DefaultForwardTimeout     = 30 * time.Second
	DefaultCacheMaxEntries    = 10000
)

// Load balancing strategy names.
const (
	StrategyRoundRobin         = "round_robin"
	StrategyWeightedRoundRobin = "weighted_round_robin"
	StrategyLeastConnections   = "least_connections"
)

// Discovery source types.
const (
	DiscoveryTypeStatic = "static"
	DiscoveryTypeConsul = "consul"
)

// Store and cache backend types.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	Listen         string               `yaml:"listen"`
	Logging        LoggingConfig        `yaml:"logging"`
	Auth           AuthConfig           `yaml:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	Pool           PoolConfig           `yaml:"pool"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	Cache          CacheConfig          `yaml:"cache"`
	Routes         []Route              `yaml:"routes"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// PublicPaths lists route patterns that bypass authentication.
	PublicPaths []string `yaml:"publicPaths"`

	// Algorithm is the JWT signature algorithm (e.g., HS256).
	Algorithm string `yaml:"algorithm"`

	// Secret is the shared key for HMAC algorithms.
	Secret string `yaml:"secret"`

	// RolesClaim is the claim holding the identity's roles. Defaults to "roles".
	RolesClaim string `yaml:"rolesClaim"`
}

// RateLimitConfig configures the default rate limit applied to routes
// without an explicit limit.
type RateLimitConfig struct {
	// Algorithm selects the limiter implementation: fixed_window (default)
	// or token_bucket.
	Algorithm string `yaml:"algorithm"`

	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`

	// Store selects the counter backend.
	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects and configures a counter/cache backend.
type StoreConfig struct {
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CircuitBreakerConfig configures per-target circuit breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold"`
	Timeout          Duration `yaml:"timeout"`
}

// PoolConfig configures per-target connection pools.
type PoolConfig struct {
	CapacityPerTarget int      `yaml:"capacityPerTarget"`
	AcquireTimeout    Duration `yaml:"acquireTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout"`
	ForwardTimeout    Duration `yaml:"forwardTimeout"`
}

// DiscoveryConfig configures the service discovery source and cache.
type DiscoveryConfig struct {
	Type string   `yaml:"type"`
	TTL  Duration `yaml:"ttl"`

	// RefreshInterval enables the background refresh loop when non-zero.
	RefreshInterval Duration `yaml:"refreshInterval"`

	// Consul holds settings for the consul source.
	Consul ConsulConfig `yaml:"consul"`

	// Static maps service names to fixed instance lists.
	Static map[string][]InstanceConfig `yaml:"static"`
}

// ConsulConfig holds Consul client settings.
type ConsulConfig struct {
	Address string `yaml:"address"`
}

// InstanceConfig is one statically configured backend instance.
type InstanceConfig struct {
	Address string `yaml:"address"`
	Weight  int    `yaml:"weight"`
}

// CacheConfig configures the response cache backend.
type CacheConfig struct {
	Type       string      `yaml:"type"`
	MaxEntries int         `yaml:"maxEntries"`
	Redis      RedisConfig `yaml:"redis"`
}

// Route binds a path pattern to a backend service with its access policy.
type Route struct {
	// Pattern is a glob-style path pattern. "*" matches exactly one
	// segment; a trailing "/*" matches one or more remaining segments.
	Pattern string `yaml:"pattern"`

	// Service is the logical backend service name resolved via discovery.
	Service string `yaml:"service"`

	// RequiredRoles, when non-empty, must intersect the identity's roles.
	RequiredRoles []string `yaml:"requiredRoles"`

	// CacheTTL enables response caching for read-only methods when non-zero.
	CacheTTL Duration `yaml:"cacheTTL"`

	// VaryHeaders lists request headers whose values take part in the
	// cache key, so responses that depend on them are cached separately.
	VaryHeaders []string `yaml:"varyHeaders"`

	// Strategy selects the load balancing strategy for this route.
	Strategy string `yaml:"strategy"`

	// RateLimit overrides the default limit when set.
	RateLimit *RouteRateLimit `yaml:"rateLimit"`

	// Transform holds deterministic request rewrite rules.
	Transform *TransformConfig `yaml:"transform"`

	// Aggregations lists secondary calls merged into the primary response.
	Aggregations []AggregationConfig `yaml:"aggregations"`
}

// RouteRateLimit is a per-route rate limit override.
type RouteRateLimit struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// TransformConfig holds pure request rewrite rules.
type TransformConfig struct {
	// RenameHeaders maps request header names to replacement names.
	RenameHeaders map[string]string `yaml:"renameHeaders"`

	// RenameFields maps top-level JSON body field names to replacements.
	RenameFields map[string]string `yaml:"renameFields"`

	// PathPrefix, when set, replaces the matched route prefix on the
	// forwarded path.
	PathPrefix string `yaml:"pathPrefix"`
}

// AggregationConfig describes one secondary call whose response is nested
// under Key in the merged payload.
type AggregationConfig struct {
	Key     string `yaml:"key"`
	Service string `yaml:"service"`
	Method  string `yaml:"method"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a GatewayConfig with default values.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Listen:  ":8080",
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		RateLimit: RateLimitConfig{
			Requests: DefaultRateLimitRequests,
			Window:   Duration(DefaultRateLimitWindow),
			Store:    StoreConfig{Type: StoreTypeMemory},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			Timeout:          Duration(DefaultBreakerTimeout),
		},
		Pool: PoolConfig{
			CapacityPerTarget: DefaultPoolCapacity,
			AcquireTimeout:    Duration(DefaultPoolAcquireTimeout),
			IdleTimeout:       Duration(DefaultPoolIdleTimeout),
			ForwardTimeout:    Duration(DefaultForwardTimeout),
		},
		Discovery: DiscoveryConfig{
			Type: DiscoveryTypeStatic,
			TTL:  Duration(DefaultDiscoveryTTL),
		},
		Cache: CacheConfig{Type: StoreTypeMemory, MaxEntries: DefaultCacheMaxEntries},
	}
}

// Validate checks the configuration and fills in defaults.
func (c *GatewayConfig) Validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}

	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = DefaultRateLimitRequests
	}
	if c.RateLimit.Window.Duration() <= 0 {
		c.RateLimit.Window = Duration(DefaultRateLimitWindow)
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.CircuitBreaker.Timeout.Duration() <= 0 {
		c.CircuitBreaker.Timeout = Duration(DefaultBreakerTimeout)
	}

	if c.Pool.CapacityPerTarget <= 0 {
		c.Pool.CapacityPerTarget = DefaultPoolCapacity
	}
	if c.Pool.AcquireTimeout.Duration() <= 0 {
		c.Pool.AcquireTimeout = Duration(DefaultPoolAcquireTimeout)
	}
	if c.Pool.IdleTimeout.Duration() <= 0 {
		c.Pool.IdleTimeout = Duration(DefaultPoolIdleTimeout)
	}
	if c.Pool.ForwardTimeout.Duration() <= 0 {
		c.Pool.ForwardTimeout = Duration(DefaultForwardTimeout)
	}

	if c.Discovery.Type == "" {
		c.Discovery.Type = DiscoveryTypeStatic
	}
	if c.Discovery.TTL.Duration() <= 0 {
		c.Discovery.TTL = Duration(DefaultDiscoveryTTL)
	}
	if c.Discovery.Type == DiscoveryTypeConsul && c.Discovery.Consul.Address == "" {
		return fmt.Errorf("discovery: consul address is required")
	}

	if c.Cache.Type == "" {
		c.Cache.Type = StoreTypeMemory
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}

	seen := make(map[string]bool, len(c.Routes))
	for i := range c.Routes {
		route := &c.Routes[i]
		if route.Pattern == "" {
			return fmt.Errorf("routes[%d]: pattern is required", i)
		}
		if route.Service == "" {
			return fmt.Errorf("routes[%d]: service is required", i)
		}
		if seen[route.Pattern] {
			return fmt.Errorf("routes[%d]: duplicate pattern %s", i, route.Pattern)
		}
		seen[route.Pattern] = true

		// Required roles without a configured verifier would never be
		// enforced; reject the combination instead of silently allowing
		// everything through.
		if len(route.RequiredRoles) > 0 && c.Auth.Secret == "" {
			return fmt.Errorf("routes[%d]: requiredRoles need auth.secret to be configured", i)
		}

		switch route.Strategy {
		case "", StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections:
		default:
			return fmt.Errorf("routes[%d]: unknown strategy %s", i, route.Strategy)
		}

		if route.RateLimit != nil {
			if route.RateLimit.Requests <= 0 {
				return fmt.Errorf("routes[%d]: rate limit requests must be positive", i)
			}
			if route.RateLimit.Window.Duration() <= 0 {
				route.RateLimit.Window = c.RateLimit.Window
			}
		}

		for j, agg := range route.Aggregations {
			if agg.Key == "" || agg.Service == "" {
				return fmt.Errorf("routes[%d].aggregations[%d]: key and service are required", i, j)
			}
		}
	}

	for service, instances := range c.Discovery.Static {
		if len(instances) == 0 {
			return fmt.Errorf("discovery.static.%s: at least one instance is required", service)
		}
		for j, inst := range instances {
			if inst.Address == "" {
				return fmt.Errorf("discovery.static.%s[%d]: address is required", service, j)
			}
			if inst.Weight < 0 {
				return fmt.Errorf("discovery.static.%s[%d]: weight must not be negative", service, j)
			}
		}
	}

	return nil
}
