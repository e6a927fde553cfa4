// Package gateway assembles the request processing core and exposes the
// transport-neutral Handle entrypoint.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/apexgw/apexgw/internal/auth"
	"github.com/apexgw/apexgw/internal/cache"
	"github.com/apexgw/apexgw/internal/circuitbreaker"
	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/discovery"
	"github.com/apexgw/apexgw/internal/loadbalancer"
	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/pipeline"
	"github.com/apexgw/apexgw/internal/pool"
	"github.com/apexgw/apexgw/internal/ratelimit"
	"github.com/apexgw/apexgw/internal/ratelimit/store"
	"github.com/apexgw/apexgw/internal/router"
	"github.com/apexgw/apexgw/internal/util"
)

// Gateway is the assembled request processing core.
type Gateway struct {
	config   *config.GatewayConfig
	logger   observability.Logger
	router   *router.Router
	pipeline *pipeline.Pipeline

	limiterStore store.Store
	limiter      ratelimit.Limiter
	respCache    cache.Cache
	discovery    *discovery.Cache
	pool         *pool.Pool
	breakers     *circuitbreaker.Registry
}

type options struct {
	logger    observability.Logger
	verifier  auth.TokenVerifier
	source    discovery.Source
	transport pipeline.Transport
	dialer    pool.Dialer
}

// Option is a functional option for the gateway.
type Option func(*options)

// WithLogger sets the gateway logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTokenVerifier overrides the verifier built from configuration.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) {
		o.verifier = verifier
	}
}

// WithDiscoverySource overrides the discovery source built from
// configuration.
func WithDiscoverySource(source discovery.Source) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithTransport overrides the upstream transport.
func WithTransport(transport pipeline.Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithDialer overrides the pool dialer.
func WithDialer(dialer pool.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// New builds a gateway from configuration. cfg must already be validated.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	o := &options{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger

	verifier := o.verifier
	if verifier == nil && cfg.Auth.Secret != "" {
		var err error
		verifier, err = auth.NewJWTVerifier(auth.JWTConfig{
			Algorithm:  cfg.Auth.Algorithm,
			Secret:     cfg.Auth.Secret,
			RolesClaim: cfg.Auth.RolesClaim,
		}, auth.WithVerifierLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to build token verifier: %w", err)
		}
	}

	limiterStore, limiter, err := buildLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}

	respCache, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	source := o.source
	if source == nil {
		source, err = buildSource(cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	disc := discovery.NewCache(source, cfg.Discovery.TTL.Duration(),
		discovery.WithCacheLogger(logger))

	tracker := loadbalancer.NewActiveTracker()

	dialer := o.dialer
	if dialer == nil {
		dialer = NewHTTPDialer(cfg.Pool.AcquireTimeout.Duration())
	}
	connPool := pool.New(pool.Config{
		CapacityPerTarget: cfg.Pool.CapacityPerTarget,
		AcquireTimeout:    cfg.Pool.AcquireTimeout.Duration(),
		IdleTimeout:       cfg.Pool.IdleTimeout.Duration(),
	}, dialer, pool.WithPoolLogger(logger), pool.WithActiveTracker(tracker))

	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout.Duration(),
	}, logger)

	transport := o.transport
	if transport == nil {
		transport = NewHTTPTransport()
	}

	forwarder := pipeline.NewUpstreamForwarder(disc, connPool, breakers, transport,
		pipeline.WithForwarderLogger(logger),
		pipeline.WithForwardTimeout(cfg.Pool.ForwardTimeout.Duration()),
		pipeline.WithBalancerTracker(tracker),
	)

	pipe := pipeline.New(forwarder, pipeline.WithPipelineLogger(logger))
	if verifier != nil {
		pipe.Use(pipeline.NewAuthenticationStage(verifier, cfg.Auth.PublicPaths))
		pipe.Use(pipeline.NewAuthorizationStage())
	}
	pipe.Use(pipeline.NewRateLimitStage(limiter, ratelimit.Limit{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window.Duration(),
	}))
	pipe.Use(pipeline.NewCacheStage(respCache))

	rt := router.New()
	for _, route := range cfg.Routes {
		rt.Register(route)
	}

	if interval := cfg.Discovery.RefreshInterval.Duration(); interval > 0 {
		disc.StartBackgroundRefresh(interval)
	}

	return &Gateway{
		config:       cfg,
		logger:       logger,
		router:       rt,
		pipeline:     pipe,
		limiterStore: limiterStore,
		limiter:      limiter,
		respCache:    respCache,
		discovery:    disc,
		pool:         connPool,
		breakers:     breakers,
	}, nil
}

// Handle processes one request and always produces a response; errors are
// rendered as JSON error bodies with the matching status code.
func (g *Gateway) Handle(ctx context.Context, method, path string, headers map[string]string, body []byte) *pipeline.Response {
	start := time.Now()

	resp, rc, err := g.process(ctx, method, path, headers, body)

	routeLabel := "unmatched"
	requestID := ""
	if rc != nil {
		requestID = rc.ID
		if rc.Route != nil {
			routeLabel = rc.Route.Pattern
		}
	}

	if err != nil {
		resp = errorResponse(requestID, err)
		recordError(routeLabel, string(util.KindOf(err)))
		g.logger.Info("request failed",
			observability.String("request_id", requestID),
			observability.String("method", method),
			observability.String("path", path),
			observability.Int("status", resp.StatusCode),
			observability.Error(err),
		)
	} else {
		if rc != nil && rc.CacheHit {
			recordCacheHit(routeLabel)
		}
		g.logger.Debug("request completed",
			observability.String("request_id", requestID),
			observability.String("method", method),
			observability.String("path", path),
			observability.Int("status", resp.StatusCode),
			observability.Duration("elapsed", time.Since(start)),
		)
	}

	recordRequest(routeLabel, resp.StatusCode, time.Since(start))
	return resp
}

// Process runs a request through the pipeline and returns the raw result.
func (g *Gateway) Process(ctx context.Context, method, path string, headers map[string]string, body []byte) (*pipeline.Response, error) {
	resp, _, err := g.process(ctx, method, path, headers, body)
	return resp, err
}

func (g *Gateway) process(ctx context.Context, method, path string, headers map[string]string, body []byte) (*pipeline.Response, *pipeline.RequestContext, error) {
	route, err := g.router.Resolve(path)
	if err != nil {
		return nil, nil, util.NewRouteNotFoundError(method, path)
	}

	rc := pipeline.NewRequestContext(method, path, headers, body, route)
	resp, err := g.pipeline.Execute(ctx, rc)
	if err != nil {
		return nil, rc, err
	}
	return resp, rc, nil
}

// Router exposes the route table for management operations.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Breakers exposes circuit breaker statistics.
func (g *Gateway) Breakers() *circuitbreaker.Registry {
	return g.breakers
}

// ApplyRoutes swaps the active route set; used by configuration reload.
func (g *Gateway) ApplyRoutes(routes []config.Route) {
	g.router.Replace(routes)
	g.logger.Info("route table replaced",
		observability.Int("routes", len(routes)),
	)
}

// Close releases all background resources.
func (g *Gateway) Close() error {
	g.discovery.Stop()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(g.pool.Close())
	record(g.respCache.Close())
	if g.limiterStore != nil {
		record(g.limiterStore.Close())
	}
	if closer, ok := g.limiter.(interface{ Close() error }); ok {
		record(closer.Close())
	}
	return firstErr
}

func buildLimiter(cfg *config.GatewayConfig, logger observability.Logger) (store.Store, ratelimit.Limiter, error) {
	if cfg.RateLimit.Algorithm == ratelimit.AlgorithmTokenBucket {
		return nil, ratelimit.NewTokenBucketLimiter(
			ratelimit.WithTokenBucketLogger(logger)), nil
	}

	var (
		counterStore store.Store
		err          error
	)
	switch cfg.RateLimit.Store.Type {
	case config.StoreTypeRedis:
		redisCfg := store.DefaultRedisConfig()
		redisCfg.Address = cfg.RateLimit.Store.Redis.Address
		redisCfg.Password = cfg.RateLimit.Store.Redis.Password
		redisCfg.DB = cfg.RateLimit.Store.Redis.DB
		if cfg.RateLimit.Store.Redis.Prefix != "" {
			redisCfg.Prefix = cfg.RateLimit.Store.Redis.Prefix
		}
		counterStore, err = store.NewRedisStore(redisCfg, store.WithRedisLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build rate limit store: %w", err)
		}
	default:
		counterStore = store.NewMemoryStore()
	}

	return counterStore, ratelimit.NewFixedWindowLimiter(counterStore,
		ratelimit.WithFixedWindowLogger(logger)), nil
}

func buildCache(cfg *config.GatewayConfig) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case config.StoreTypeRedis:
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Address = cfg.Cache.Redis.Address
		redisCfg.Password = cfg.Cache.Redis.Password
		redisCfg.DB = cfg.Cache.Redis.DB
		if cfg.Cache.Redis.Prefix != "" {
			redisCfg.Prefix = cfg.Cache.Redis.Prefix
		}
		respCache, err := cache.NewRedisCache(redisCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build response cache: %w", err)
		}
		return respCache, nil
	default:
		return cache.NewMemoryCache(cfg.Cache.MaxEntries), nil
	}
}

func buildSource(cfg *config.GatewayConfig, logger observability.Logger) (discovery.Source, error) {
	switch cfg.Discovery.Type {
	case config.DiscoveryTypeConsul:
		source, err := discovery.NewConsulSource(cfg.Discovery.Consul.Address,
			discovery.WithConsulLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to build consul source: %w", err)
		}
		return source, nil
	default:
		return discovery.NewStaticSourceFromConfig(cfg.Discovery.Static), nil
	}
}
