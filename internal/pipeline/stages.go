package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/apexgw/apexgw/internal/auth"
	"github.com/apexgw/apexgw/internal/cache"
	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/ratelimit"
	"github.com/apexgw/apexgw/internal/router"
	"github.com/apexgw/apexgw/internal/util"
)

// noopResponse is embedded by stages without response-side behavior.
type noopResponse struct{}

func (noopResponse) HandleResponse(context.Context, *RequestContext) error {
	return nil
}

// AuthenticationStage verifies the bearer credential and attaches the
// caller identity. Paths matching a public pattern pass through
// anonymously.
type AuthenticationStage struct {
	noopResponse

	verifier auth.TokenVerifier
	public   *router.Router
}

// NewAuthenticationStage creates the stage. publicPatterns use the same
// glob syntax as route patterns.
func NewAuthenticationStage(verifier auth.TokenVerifier, publicPatterns []string) *AuthenticationStage {
	public := router.New()
	for _, pattern := range publicPatterns {
		public.Register(config.Route{Pattern: pattern})
	}
	return &AuthenticationStage{verifier: verifier, public: public}
}

// Name implements Stage.
func (s *AuthenticationStage) Name() string { return "authentication" }

// HandleRequest implements Stage.
func (s *AuthenticationStage) HandleRequest(ctx context.Context, rc *RequestContext) (Verdict, error) {
	if _, err := s.public.Resolve(rc.Request.Path); err == nil {
		return Continue, nil
	}

	token := auth.BearerToken(rc.Request.Header("Authorization"))
	if token == "" {
		return Continue, util.NewUnauthenticatedError("missing credentials")
	}

	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return Continue, err
	}

	rc.Identity = identity
	return Continue, nil
}

// AuthorizationStage enforces the route's required roles. Routes without
// required roles pass any request, authenticated or not.
type AuthorizationStage struct {
	noopResponse
}

// NewAuthorizationStage creates the stage.
func NewAuthorizationStage() *AuthorizationStage {
	return &AuthorizationStage{}
}

// Name implements Stage.
func (s *AuthorizationStage) Name() string { return "authorization" }

// HandleRequest implements Stage.
func (s *AuthorizationStage) HandleRequest(_ context.Context, rc *RequestContext) (Verdict, error) {
	required := rc.Route.Config.RequiredRoles
	if len(required) == 0 {
		return Continue, nil
	}

	if rc.Identity == nil {
		return Continue, util.NewUnauthenticatedError("route requires an authenticated identity")
	}
	if !rc.Identity.HasAnyRole(required) {
		return Continue, util.NewForbiddenError(
			fmt.Sprintf("identity %s lacks required roles", rc.Identity.Subject))
	}
	return Continue, nil
}

// RateLimitStage counts the request against the client's window and
// rejects it once over the limit. The rejected request still counts.
type RateLimitStage struct {
	noopResponse

	limiter      ratelimit.Limiter
	defaultLimit ratelimit.Limit
}

// NewRateLimitStage creates the stage. defaultLimit applies to routes
// without a per-route override.
func NewRateLimitStage(limiter ratelimit.Limiter, defaultLimit ratelimit.Limit) *RateLimitStage {
	return &RateLimitStage{limiter: limiter, defaultLimit: defaultLimit}
}

// Name implements Stage.
func (s *RateLimitStage) Name() string { return "rate_limit" }

// HandleRequest implements Stage.
func (s *RateLimitStage) HandleRequest(ctx context.Context, rc *RequestContext) (Verdict, error) {
	limit := s.defaultLimit
	if override := rc.Route.Config.RateLimit; override != nil {
		limit = ratelimit.Limit{
			Requests: override.Requests,
			Window:   override.Window.Duration(),
		}
	}

	key := ratelimit.Key(s.clientID(rc), rc.Route.Pattern)
	result, err := s.limiter.Allow(ctx, key, limit)
	if err != nil {
		return Continue, util.WrapError(err, "rate limit check failed")
	}
	if !result.Allowed {
		return Continue, util.NewRateLimitError(limit.Requests, limit.Window)
	}
	return Continue, nil
}

// clientID prefers the authenticated subject and falls back to the
// forwarded client address.
func (s *RateLimitStage) clientID(rc *RequestContext) string {
	if rc.Identity != nil && rc.Identity.Subject != "" {
		return rc.Identity.Subject
	}
	if addr := rc.Request.Header("X-Forwarded-For"); addr != "" {
		if i := strings.IndexByte(addr, ','); i >= 0 {
			addr = addr[:i]
		}
		return strings.TrimSpace(addr)
	}
	return "anonymous"
}

// CacheStage serves cached responses for cacheable requests and stores
// fresh successful responses on the way back.
type CacheStage struct {
	store cache.Cache
}

// NewCacheStage creates the stage.
func NewCacheStage(store cache.Cache) *CacheStage {
	return &CacheStage{store: store}
}

// Name implements Stage.
func (s *CacheStage) Name() string { return "cache" }

// HandleRequest implements Stage. Only read methods on routes with a
// cache TTL participate.
func (s *CacheStage) HandleRequest(ctx context.Context, rc *RequestContext) (Verdict, error) {
	if !s.cacheable(rc) {
		return Continue, nil
	}

	key := cache.Key(rc.Request.Method, rc.Request.Path, rc.Request.Headers,
		rc.Route.Config.VaryHeaders)

	entry, err := s.store.Get(ctx, key)
	if err == nil {
		rc.Response = &Response{
			StatusCode: entry.StatusCode,
			Headers:    entry.Headers,
			Body:       entry.Body,
		}
		rc.CacheHit = true
		return ShortCircuit, nil
	}
	if !cache.IsCacheMiss(err) {
		// A broken cache backend must not take down the route.
		return Continue, nil
	}

	rc.CacheKey = key
	return Continue, nil
}

// HandleResponse implements Stage.
func (s *CacheStage) HandleResponse(ctx context.Context, rc *RequestContext) error {
	if rc.CacheKey == "" || rc.Response == nil {
		return nil
	}
	if rc.Response.StatusCode < 200 || rc.Response.StatusCode >= 300 {
		return nil
	}

	entry := &cache.Entry{
		StatusCode: rc.Response.StatusCode,
		Headers:    rc.Response.Headers,
		Body:       rc.Response.Body,
	}
	return s.store.Set(ctx, rc.CacheKey, entry, rc.Route.Config.CacheTTL.Duration())
}

func (s *CacheStage) cacheable(rc *RequestContext) bool {
	if rc.Route.Config.CacheTTL.Duration() <= 0 {
		return false
	}
	switch rc.Request.Method {
	case "GET", "HEAD":
		return true
	default:
		return false
	}
}
