package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
listen: ":9090"
logging:
  level: debug
  format: console
auth:
  publicPaths:
    - /health
  algorithm: HS256
  secret: topsecret
  rolesClaim: groups
rateLimit:
  requests: 50
  window: 30s
circuitBreaker:
  failureThreshold: 3
  timeout: 10s
pool:
  capacityPerTarget: 20
  acquireTimeout: 2s
discovery:
  type: static
  ttl: 15s
  static:
    users:
      - address: "10.0.0.1:8080"
        weight: 3
      - address: "10.0.0.2:8080"
routes:
  - pattern: /api/users/*
    service: users
    strategy: weighted_round_robin
    requiredRoles: [admin]
    cacheTTL: 1m
    rateLimit:
      requests: 5
      window: 10s
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "topsecret", cfg.Auth.Secret)
	assert.Equal(t, []string{"/health"}, cfg.Auth.PublicPaths)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window.Duration())
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.CircuitBreaker.Timeout.Duration())
	assert.Equal(t, 20, cfg.Pool.CapacityPerTarget)
	assert.Equal(t, 15*time.Second, cfg.Discovery.TTL.Duration())

	require.Len(t, cfg.Routes, 1)
	route := cfg.Routes[0]
	assert.Equal(t, "/api/users/*", route.Pattern)
	assert.Equal(t, StrategyWeightedRoundRobin, route.Strategy)
	assert.Equal(t, time.Minute, route.CacheTTL.Duration())
	require.NotNil(t, route.RateLimit)
	assert.Equal(t, 5, route.RateLimit.Requests)

	require.Len(t, cfg.Discovery.Static["users"], 2)
	assert.Equal(t, 3, cfg.Discovery.Static["users"][0].Weight)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("routes: []\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, DefaultRateLimitRequests, cfg.RateLimit.Requests)
	assert.Equal(t, DefaultRateLimitWindow, cfg.RateLimit.Window.Duration())
	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, DefaultBreakerTimeout, cfg.CircuitBreaker.Timeout.Duration())
	assert.Equal(t, DefaultDiscoveryTTL, cfg.Discovery.TTL.Duration())
	assert.Equal(t, DefaultPoolCapacity, cfg.Pool.CapacityPerTarget)
	assert.Equal(t, DefaultPoolAcquireTimeout, cfg.Pool.AcquireTimeout.Duration())
	assert.Equal(t, StoreTypeMemory, cfg.RateLimit.Store.Type)
	assert.Equal(t, StoreTypeMemory, cfg.Cache.Type)
	assert.Equal(t, DiscoveryTypeStatic, cfg.Discovery.Type)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing pattern", "routes:\n  - service: users\n"},
		{"missing service", "routes:\n  - pattern: /x\n"},
		{"duplicate pattern", "routes:\n  - pattern: /x\n    service: a\n  - pattern: /x\n    service: b\n"},
		{"unknown strategy", "routes:\n  - pattern: /x\n    service: a\n    strategy: random\n"},
		{"zero rate limit", "routes:\n  - pattern: /x\n    service: a\n    rateLimit:\n      requests: 0\n"},
		{"required roles without auth secret", "routes:\n  - pattern: /x\n    service: a\n    requiredRoles: [admin]\n"},
		{"consul without address", "discovery:\n  type: consul\n"},
		{"empty static service", "discovery:\n  static:\n    users: []\n"},
		{"instance without address", "discovery:\n  static:\n    users:\n      - weight: 1\n"},
		{"aggregation without key", "routes:\n  - pattern: /x\n    service: a\n    aggregations:\n      - service: b\n"},
		{"bad yaml", "routes: [\n"},
		{"bad duration", "rateLimit:\n  window: banana\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRouteRateLimitInheritsWindow(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
rateLimit:
  window: 45s
routes:
  - pattern: /x
    service: a
    rateLimit:
      requests: 7
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Routes[0].RateLimit)
	assert.Equal(t, 45*time.Second, cfg.Routes[0].RateLimit.Window.Duration())
}

func TestDurationYAML(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalYAML(func(v interface{}) error {
		*(v.(*string)) = "1h30m"
		return nil
	}))
	assert.Equal(t, 90*time.Minute, d.Duration())

	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", out)
}
