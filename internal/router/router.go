// Package router provides path-based route resolution for the gateway.
package router

import (
	"strings"
	"sync"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/util"
)

// Route is a registered pattern-to-service binding.
type Route struct {
	// Pattern is the glob-style pattern the route was registered under.
	Pattern string

	// Config is the full route configuration.
	Config config.Route

	// seq is the registration sequence number, used to break specificity
	// ties in favor of the earliest registration.
	seq int

	segments  []string
	multiTail bool
	literals  int
}

// Service returns the logical backend service name.
func (r *Route) Service() string {
	return r.Config.Service
}

// Router resolves request paths against registered route patterns.
//
// Matching rules: pattern segments are compared left to right; "*" matches
// exactly one path segment and a trailing "/*" matches one or more remaining
// segments. When several patterns match, the one with the most literal
// segments wins; equal specificity is broken by registration order.
type Router struct {
	mu      sync.RWMutex
	routes  map[string]*Route
	nextSeq int
}

// New creates a new router.
func New() *Router {
	return &Router{
		routes: make(map[string]*Route),
	}
}

// Register adds a route. Re-registering an identical pattern replaces the
// prior route while keeping its position in tie-breaking order.
func (r *Router) Register(cfg config.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	route := compile(cfg)
	if existing, ok := r.routes[cfg.Pattern]; ok {
		route.seq = existing.seq
	} else {
		route.seq = r.nextSeq
		r.nextSeq++
	}
	r.routes[cfg.Pattern] = route
}

// Update replaces the route registered under cfg.Pattern.
// It returns false when no such route exists.
func (r *Router) Update(cfg config.Route) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.routes[cfg.Pattern]
	if !ok {
		return false
	}

	route := compile(cfg)
	route.seq = existing.seq
	r.routes[cfg.Pattern] = route
	return true
}

// Remove deletes the route registered under the given pattern.
func (r *Router) Remove(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[pattern]; !ok {
		return false
	}
	delete(r.routes, pattern)
	return true
}

// Resolve matches a request path against registered patterns.
func (r *Router) Resolve(path string) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	segments := splitPath(path)

	var best *Route
	for _, route := range r.routes {
		if !route.matches(segments) {
			continue
		}
		if best == nil || route.literals > best.literals ||
			(route.literals == best.literals && route.seq < best.seq) {
			best = route
		}
	}

	if best == nil {
		return nil, util.NewRouteNotFoundError("", path)
	}
	return best, nil
}

// Get returns the route registered under the given pattern.
func (r *Router) Get(pattern string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[pattern]
	return route, ok
}

// Routes returns all registered routes in registration order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]*Route, 0, len(r.routes))
	for _, route := range r.routes {
		routes = append(routes, route)
	}
	for i := 1; i < len(routes); i++ {
		for j := i; j > 0 && routes[j-1].seq > routes[j].seq; j-- {
			routes[j-1], routes[j] = routes[j], routes[j-1]
		}
	}
	return routes
}

// Replace swaps the full route set. Patterns present in both the old and new
// sets keep their registration order.
func (r *Router) Replace(cfgs []config.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.routes
	r.routes = make(map[string]*Route, len(cfgs))
	for _, cfg := range cfgs {
		route := compile(cfg)
		if existing, ok := old[cfg.Pattern]; ok {
			route.seq = existing.seq
		} else {
			route.seq = r.nextSeq
			r.nextSeq++
		}
		r.routes[cfg.Pattern] = route
	}
}

func compile(cfg config.Route) *Route {
	route := &Route{
		Pattern: cfg.Pattern,
		Config:  cfg,
	}

	route.segments = splitPath(cfg.Pattern)
	if n := len(route.segments); n > 0 && route.segments[n-1] == "*" {
		// A trailing "/*" consumes one or more remaining segments.
		route.multiTail = true
		route.segments = route.segments[:n-1]
	}

	for _, seg := range route.segments {
		if seg != "*" {
			route.literals++
		}
	}

	return route
}

func (r *Route) matches(segments []string) bool {
	if r.multiTail {
		if len(segments) <= len(r.segments) {
			return false
		}
	} else if len(segments) != len(r.segments) {
		return false
	}

	for i, seg := range r.segments {
		if seg == "*" {
			continue
		}
		if seg != segments[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
