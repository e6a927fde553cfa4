package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/pipeline"
	"github.com/apexgw/apexgw/internal/pool"
	"github.com/apexgw/apexgw/internal/util"
)

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

func nopDialer(_ context.Context, _ string) (pool.Handle, error) {
	return nopHandle{}, nil
}

// fakeTransport answers upstream sends from a per-test function.
type fakeTransport struct {
	mu    sync.Mutex
	calls int
	send  func(target string, req *pipeline.Request) (*pipeline.Response, error)
}

func (t *fakeTransport) Send(_ context.Context, _ pool.Handle, target string, req *pipeline.Request) (*pipeline.Response, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.send(target, req)
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func okTransport() *fakeTransport {
	return &fakeTransport{
		send: func(_ string, _ *pipeline.Request) (*pipeline.Response, error) {
			return &pipeline.Response{
				StatusCode: 200,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       []byte(`{"ok":true}`),
			}, nil
		},
	}
}

func baseConfig(routes ...config.Route) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Discovery.Static = map[string][]config.InstanceConfig{
		"svc": {{Address: "svc:80", Weight: 1}},
	}
	cfg.Routes = routes
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig, transport *fakeTransport, opts ...Option) *Gateway {
	t.Helper()

	require.NoError(t, cfg.Validate())

	opts = append(opts, WithTransport(transport), WithDialer(nopDialer))
	gw, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	return gw
}

func decodeErrorKind(t *testing.T, resp *pipeline.Response) string {
	t.Helper()

	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	return body.Error.Kind
}

func TestHandleForwardsMatchedRoute(t *testing.T) {
	transport := okTransport()
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), transport)

	resp := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte(`{"ok":true}`), resp.Body)
	assert.Equal(t, 1, transport.callCount())
}

func TestHandleUnmatchedPathIs404(t *testing.T) {
	transport := okTransport()
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), transport)

	resp := gw.Handle(context.Background(), "GET", "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "route_not_found", decodeErrorKind(t, resp))
	assert.Equal(t, 0, transport.callCount())
}

func TestHandleEnforcesPerRouteRateLimit(t *testing.T) {
	transport := okTransport()
	gw := newTestGateway(t, baseConfig(config.Route{
		Pattern: "/api/*", Service: "svc",
		RateLimit: &config.RouteRateLimit{Requests: 2, Window: config.Duration(time.Minute)},
	}), transport)

	headers := map[string]string{"X-Forwarded-For": "10.0.0.9"}

	for i := 0; i < 2; i++ {
		resp := gw.Handle(context.Background(), "GET", "/api/users", headers, nil)
		assert.Equal(t, 200, resp.StatusCode, "request %d", i+1)
	}

	resp := gw.Handle(context.Background(), "GET", "/api/users", headers, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", decodeErrorKind(t, resp))
	assert.Equal(t, 2, transport.callCount())
}

func TestHandleCircuitBreakerOpensAndRejects(t *testing.T) {
	transport := &fakeTransport{
		send: func(_ string, _ *pipeline.Request) (*pipeline.Response, error) {
			return nil, errors.New("backend down")
		},
	}

	cfg := baseConfig(config.Route{Pattern: "/api/*", Service: "svc"})
	cfg.CircuitBreaker.FailureThreshold = 2

	gw := newTestGateway(t, cfg, transport)

	for i := 0; i < 2; i++ {
		resp := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "service_unavailable", decodeErrorKind(t, resp))
	}

	// The third request is rejected by the open breaker without reaching
	// the transport.
	resp := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 2, transport.callCount())
}

func TestHandleServesSecondReadFromCache(t *testing.T) {
	transport := okTransport()
	gw := newTestGateway(t, baseConfig(config.Route{
		Pattern: "/api/*", Service: "svc",
		CacheTTL: config.Duration(time.Minute),
	}), transport)

	first := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	require.Equal(t, 200, first.StatusCode)

	second := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	assert.Equal(t, 200, second.StatusCode)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, transport.callCount())
}

func TestHandleUpstreamTimeoutIs504(t *testing.T) {
	transport := &fakeTransport{
		send: func(_ string, _ *pipeline.Request) (*pipeline.Response, error) {
			return nil, context.DeadlineExceeded
		},
	}
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), transport)

	resp := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "upstream_timeout", decodeErrorKind(t, resp))
}

func signTestToken(t *testing.T, secret, subject string, roles []string) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Subject(subject).
		Expiration(time.Now().Add(time.Hour))
	if roles != nil {
		builder = builder.Claim("roles", roles)
	}
	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestHandleAuthenticationAndAuthorization(t *testing.T) {
	const secret = "gateway-test-secret"

	transport := okTransport()
	cfg := baseConfig(
		config.Route{Pattern: "/admin/*", Service: "svc", RequiredRoles: []string{"admin"}},
		config.Route{Pattern: "/health", Service: "svc"},
	)
	cfg.Auth.Secret = secret
	cfg.Auth.Algorithm = "HS256"
	cfg.Auth.PublicPaths = []string{"/health"}

	gw := newTestGateway(t, cfg, transport)
	ctx := context.Background()

	// Public paths need no token.
	resp := gw.Handle(ctx, "GET", "/health", nil, nil)
	assert.Equal(t, 200, resp.StatusCode)

	// Missing token on a protected path.
	resp = gw.Handle(ctx, "GET", "/admin/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", decodeErrorKind(t, resp))

	// Valid token without the required role.
	reader := signTestToken(t, secret, "bob", []string{"reader"})
	resp = gw.Handle(ctx, "GET", "/admin/users", map[string]string{"Authorization": "Bearer " + reader}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", decodeErrorKind(t, resp))

	// Valid token with the required role.
	admin := signTestToken(t, secret, "alice", []string{"admin"})
	resp = gw.Handle(ctx, "GET", "/admin/users", map[string]string{"Authorization": "Bearer " + admin}, nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandleRelaysUpstreamStatus(t *testing.T) {
	transport := &fakeTransport{
		send: func(_ string, _ *pipeline.Request) (*pipeline.Response, error) {
			return &pipeline.Response{StatusCode: 404, Body: []byte("nope")}, nil
		},
	}
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), transport)

	resp := gw.Handle(context.Background(), "GET", "/api/users", nil, nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, []byte("nope"), resp.Body)
}

func TestApplyRoutesSwapsRouteTable(t *testing.T) {
	transport := okTransport()
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/old/*", Service: "svc"},
	), transport)
	ctx := context.Background()

	resp := gw.Handle(ctx, "GET", "/old/x", nil, nil)
	require.Equal(t, 200, resp.StatusCode)

	gw.ApplyRoutes([]config.Route{{Pattern: "/new/*", Service: "svc"}})

	resp = gw.Handle(ctx, "GET", "/old/x", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = gw.Handle(ctx, "GET", "/new/x", nil, nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestStatusForCoversAllKinds(t *testing.T) {
	cases := map[util.Kind]int{
		util.KindRouteNotFound:        http.StatusNotFound,
		util.KindUnauthenticated:      http.StatusUnauthorized,
		util.KindForbidden:            http.StatusForbidden,
		util.KindRateLimitExceeded:    http.StatusTooManyRequests,
		util.KindServiceUnavailable:   http.StatusServiceUnavailable,
		util.KindPoolExhausted:        http.StatusServiceUnavailable,
		util.KindDiscoveryUnavailable: http.StatusServiceUnavailable,
		util.KindNoAvailableInstance:  http.StatusServiceUnavailable,
		util.KindUpstreamTimeout:      http.StatusGatewayTimeout,
		util.KindInternal:             http.StatusInternalServerError,
	}

	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}

func TestErrorResponseHidesInternalDetails(t *testing.T) {
	resp := errorResponse("req-1", errors.New("sql: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "internal", body.Error.Kind)
	assert.Equal(t, "internal error", body.Error.Message)
}
