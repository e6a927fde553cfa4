// Package pool manages bounded, reusable outbound connections per backend
// target.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apexgw/apexgw/internal/loadbalancer"
	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/util"
)

// Handle is an opaque transport handle owned by a pooled connection.
type Handle interface {
	Close() error
}

// Dialer creates a transport handle for a target.
type Dialer func(ctx context.Context, target string) (Handle, error)

// DialError reports a failed attempt to establish a new connection to a
// target. Callers use it to tell a dead backend apart from local
// backpressure such as pool exhaustion.
type DialError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	return fmt.Sprintf("failed to dial %s: %v", e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	return e.Cause
}

// Conn is a pooled connection checked out by exactly one in-flight request
// at a time.
type Conn struct {
	target   string
	handle   Handle
	lastUsed time.Time
}

// Target returns the backend target this connection belongs to.
func (c *Conn) Target() string {
	return c.target
}

// Handle returns the transport handle.
func (c *Conn) Handle() Handle {
	return c.handle
}

// Config holds connection pool configuration.
type Config struct {
	// CapacityPerTarget bounds the number of connections per target.
	CapacityPerTarget int

	// AcquireTimeout bounds how long Acquire blocks at capacity.
	AcquireTimeout time.Duration

	// IdleTimeout closes idle connections older than this.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		CapacityPerTarget: 100,
		AcquireTimeout:    5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

// Pool owns per-target connection sets shared by all requests forwarding
// to the same backend.
type Pool struct {
	config  Config
	dialer  Dialer
	logger  observability.Logger
	tracker *loadbalancer.ActiveTracker

	mu      sync.Mutex
	targets map[string]*targetPool

	stopCh chan struct{}
	once   sync.Once
}

// targetPool holds the connections for one target. The semaphore token is
// held for the whole life of a connection, checked out or idle.
type targetPool struct {
	sem  chan struct{}
	idle chan *Conn
}

// Option is a functional option for configuring the pool.
type Option func(*Pool)

// WithPoolLogger sets the logger for the pool.
func WithPoolLogger(logger observability.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithActiveTracker wires the tracker consulted by least-connections
// balancing. Checkout and release update it.
func WithActiveTracker(tracker *loadbalancer.ActiveTracker) Option {
	return func(p *Pool) {
		p.tracker = tracker
	}
}

// New creates a connection pool. A background reaper closes idle
// connections past the idle timeout; call Close to stop it.
func New(config Config, dialer Dialer, opts ...Option) *Pool {
	if config.CapacityPerTarget <= 0 {
		config.CapacityPerTarget = 100
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 5 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 90 * time.Second
	}

	p := &Pool{
		config:  config,
		dialer:  dialer,
		logger:  observability.NopLogger(),
		targets: make(map[string]*targetPool),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	go p.reapLoop()

	return p
}

// Acquire checks out a connection for a target, dialing a new one when
// under capacity. At capacity it blocks until a connection is released or
// the acquire timeout elapses, then fails with PoolExhausted.
func (p *Pool) Acquire(ctx context.Context, target string) (*Conn, error) {
	tp := p.targetPool(target)

	start := time.Now()
	deadline := time.NewTimer(p.config.AcquireTimeout)
	defer deadline.Stop()

	for {
		// Prefer an idle connection before dialing.
		select {
		case conn := <-tp.idle:
			if p.expired(conn) {
				p.discard(tp, conn)
				continue
			}
			p.checkout(target)
			return conn, nil
		default:
		}

		select {
		case conn := <-tp.idle:
			if p.expired(conn) {
				p.discard(tp, conn)
				continue
			}
			p.checkout(target)
			return conn, nil

		case tp.sem <- struct{}{}:
			handle, err := p.dialer(ctx, target)
			if err != nil {
				<-tp.sem
				return nil, &DialError{Target: target, Cause: err}
			}
			p.checkout(target)
			return &Conn{target: target, handle: handle}, nil

		case <-deadline.C:
			return nil, util.NewPoolExhaustedError(target, p.config.CapacityPerTarget, time.Since(start))

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a connection to the pool. A non-nil forwardErr marks the
// connection as unsafe to reuse; it is closed and its capacity slot freed.
// Release must be called on every exit path after a successful Acquire.
func (p *Pool) Release(conn *Conn, forwardErr error) {
	if conn == nil {
		return
	}

	tp := p.targetPool(conn.target)

	if p.tracker != nil {
		p.tracker.Decrement(conn.target)
	}

	if forwardErr != nil {
		p.discard(tp, conn)
		return
	}

	conn.lastUsed = time.Now()
	select {
	case tp.idle <- conn:
	default:
		// Idle buffer full; drop the connection instead of blocking.
		p.discard(tp, conn)
	}
}

// Close stops the reaper and closes all idle connections.
func (p *Pool) Close() error {
	p.once.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tp := range p.targets {
	drain:
		for {
			select {
			case conn := <-tp.idle:
				p.discard(tp, conn)
			default:
				break drain
			}
		}
	}

	return nil
}

// InFlight returns the number of live connections for a target, checked
// out or idle.
func (p *Pool) InFlight(target string) int {
	return len(p.targetPool(target).sem)
}

func (p *Pool) checkout(target string) {
	if p.tracker != nil {
		p.tracker.Increment(target)
	}
}

func (p *Pool) targetPool(target string) *targetPool {
	p.mu.Lock()
	defer p.mu.Unlock()

	tp, ok := p.targets[target]
	if !ok {
		tp = &targetPool{
			sem:  make(chan struct{}, p.config.CapacityPerTarget),
			idle: make(chan *Conn, p.config.CapacityPerTarget),
		}
		p.targets[target] = tp
	}
	return tp
}

func (p *Pool) expired(conn *Conn) bool {
	return time.Since(conn.lastUsed) > p.config.IdleTimeout
}

// discard closes a connection and frees its capacity slot.
func (p *Pool) discard(tp *targetPool, conn *Conn) {
	if conn.handle != nil {
		if err := conn.handle.Close(); err != nil {
			p.logger.Debug("failed to close pooled connection",
				observability.String("target", conn.target),
				observability.Error(err),
			)
		}
	}
	<-tp.sem
}

func (p *Pool) reapLoop() {
	interval := p.config.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.stopCh:
			return
		}
	}
}

// reap closes idle connections past the keep-alive window.
func (p *Pool) reap() {
	p.mu.Lock()
	pools := make([]*targetPool, 0, len(p.targets))
	for _, tp := range p.targets {
		pools = append(pools, tp)
	}
	p.mu.Unlock()

	for _, tp := range pools {
		keep := make([]*Conn, 0, len(tp.idle))
	drain:
		for {
			select {
			case conn := <-tp.idle:
				if p.expired(conn) {
					p.discard(tp, conn)
				} else {
					keep = append(keep, conn)
				}
			default:
				break drain
			}
		}

		for _, conn := range keep {
			select {
			case tp.idle <- conn:
			default:
				p.discard(tp, conn)
			}
		}
	}
}
