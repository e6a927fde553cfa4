package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/apexgw/apexgw/internal/circuitbreaker"
	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/discovery"
	"github.com/apexgw/apexgw/internal/loadbalancer"
	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/pool"
	"github.com/apexgw/apexgw/internal/transform"
	"github.com/apexgw/apexgw/internal/util"
)

// Transport sends one request over a pooled connection handle.
type Transport interface {
	Send(ctx context.Context, handle pool.Handle, target string, req *Request) (*Response, error)
}

// UpstreamForwarder resolves instances through the discovery cache,
// balances across them, and sends the request over a pooled connection
// guarded by the target's circuit breaker.
type UpstreamForwarder struct {
	discovery *discovery.Cache
	pool      *pool.Pool
	breakers  *circuitbreaker.Registry
	transport Transport
	tracker   *loadbalancer.ActiveTracker
	timeout   time.Duration
	logger    observability.Logger

	mu        sync.Mutex
	balancers map[string]loadbalancer.Balancer
}

// ForwarderOption is a functional option for the forwarder.
type ForwarderOption func(*UpstreamForwarder)

// WithForwarderLogger sets the logger for the forwarder.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *UpstreamForwarder) {
		f.logger = logger
	}
}

// WithForwardTimeout bounds each upstream send.
func WithForwardTimeout(timeout time.Duration) ForwarderOption {
	return func(f *UpstreamForwarder) {
		f.timeout = timeout
	}
}

// WithBalancerTracker supplies the in-flight tracker consulted by
// least-connections balancing. It must be the same tracker the pool
// updates.
func WithBalancerTracker(tracker *loadbalancer.ActiveTracker) ForwarderOption {
	return func(f *UpstreamForwarder) {
		f.tracker = tracker
	}
}

// NewUpstreamForwarder creates a forwarder.
func NewUpstreamForwarder(
	disc *discovery.Cache,
	connPool *pool.Pool,
	breakers *circuitbreaker.Registry,
	transport Transport,
	opts ...ForwarderOption,
) *UpstreamForwarder {
	f := &UpstreamForwarder{
		discovery: disc,
		pool:      connPool,
		breakers:  breakers,
		transport: transport,
		timeout:   config.DefaultForwardTimeout,
		logger:    observability.NopLogger(),
		balancers: make(map[string]loadbalancer.Balancer),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward implements Forwarder. Transform rules apply before the send;
// aggregations merge after a successful primary response.
func (f *UpstreamForwarder) Forward(ctx context.Context, rc *RequestContext) (*Response, error) {
	route := rc.Route
	upstream := f.upstreamRequest(rc)

	resp, err := f.call(ctx, route.Service(), route.Config.Strategy, "route:"+route.Pattern, upstream)
	if err != nil {
		return nil, err
	}

	if len(route.Config.Aggregations) > 0 {
		return f.aggregate(ctx, rc, resp)
	}
	return resp, nil
}

// upstreamRequest builds the forwarded request, applying the route's
// transform rules without touching the inbound request.
func (f *UpstreamForwarder) upstreamRequest(rc *RequestContext) *Request {
	rules := rulesOf(rc.Route.Config.Transform)

	headers := rules.ApplyHeaders(rc.Request.Headers)
	if rc.Identity != nil && rc.Identity.Subject != "" {
		headers["X-Gateway-Subject"] = rc.Identity.Subject
	}
	headers["X-Request-Id"] = rc.ID

	body, err := rules.ApplyBody(rc.Request.Body)
	if err != nil {
		f.logger.Warn("body transform failed, forwarding original body",
			observability.String("request_id", rc.ID),
			observability.Error(err),
		)
		body = rc.Request.Body
	}

	return &Request{
		Method:  rc.Request.Method,
		Path:    rules.ApplyPath(rc.Request.Path),
		Headers: headers,
		Body:    body,
	}
}

// call performs one balanced, breaker-guarded, pooled upstream request.
func (f *UpstreamForwarder) call(ctx context.Context, service, strategy, balancerKey string, req *Request) (*Response, error) {
	instances, err := f.discovery.GetInstances(ctx, service)
	if err != nil {
		return nil, err
	}

	instance, err := f.balancer(balancerKey, strategy).Select(instances)
	if err != nil {
		return nil, err
	}
	target := instance.Address

	breaker := f.breakers.GetOrCreate(target)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	conn, err := f.pool.Acquire(ctx, target)
	if err != nil {
		var dialErr *pool.DialError
		if errors.As(err, &dialErr) {
			// A failed dial is upstream evidence and counts against the
			// breaker like any other failed call.
			breaker.RecordFailure()
			f.logger.Warn("upstream dial failed",
				observability.String("service", service),
				observability.String("target", target),
				observability.Error(err),
			)
			return nil, util.NewUpstreamError(service, target, err, false)
		}

		// Pool exhaustion and cancelled waits are local backpressure, not
		// an upstream outcome. If this call held the half-open probe slot,
		// free it so the next call can probe.
		breaker.AbandonProbe()
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, sendErr := f.transport.Send(sendCtx, conn.Handle(), target, req)
	f.pool.Release(conn, sendErr)

	if sendErr != nil {
		breaker.RecordFailure()
		timeout := isTimeout(sendCtx, sendErr)
		f.logger.Warn("upstream call failed",
			observability.String("service", service),
			observability.String("target", target),
			observability.Bool("timeout", timeout),
			observability.Error(sendErr),
		)
		if timeout {
			return nil, util.NewUpstreamError(service, target, sendErr, true)
		}
		return nil, util.NewUpstreamError(service, target, sendErr, false)
	}

	// A 5xx reply still counts against the breaker but is relayed as-is.
	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}

	return resp, nil
}

// balancer returns the shared balancer for a key, creating it on first
// use so rotation state survives across requests.
func (f *UpstreamForwarder) balancer(key, strategy string) loadbalancer.Balancer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.balancers[key]; ok {
		return b
	}
	b := loadbalancer.New(strategy, f.tracker)
	f.balancers[key] = b
	return b
}

func rulesOf(cfg *config.TransformConfig) *transform.Rules {
	if cfg == nil {
		return nil
	}
	return &transform.Rules{
		RenameHeaders: cfg.RenameHeaders,
		RenameFields:  cfg.RenameFields,
		PathPrefix:    cfg.PathPrefix,
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
