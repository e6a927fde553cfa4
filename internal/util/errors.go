// Package util provides shared utility types for the gateway core.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRouteNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., RateLimitError, UpstreamError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the machine-readable classification of a gateway error.
type Kind string

// Error kinds surfaced to callers.
const (
	KindRouteNotFound        Kind = "route_not_found"
	KindUnauthenticated      Kind = "unauthenticated"
	KindForbidden            Kind = "forbidden"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindPoolExhausted        Kind = "pool_exhausted"
	KindDiscoveryUnavailable Kind = "service_discovery_unavailable"
	KindNoAvailableInstance  Kind = "no_available_instance"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindInternal             Kind = "internal"
)

// Common sentinel errors.
var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrForbidden            = errors.New("forbidden")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrPoolExhausted        = errors.New("connection pool exhausted")
	ErrDiscoveryUnavailable = errors.New("service discovery unavailable")
	ErrNoAvailableInstance  = errors.New("no available instance")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
)

// KindOf classifies an error into its caller-visible kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRouteNotFound):
		return KindRouteNotFound
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRateLimited):
		return KindRateLimitExceeded
	case errors.Is(err, ErrPoolExhausted):
		return KindPoolExhausted
	case errors.Is(err, ErrDiscoveryUnavailable):
		return KindDiscoveryUnavailable
	case errors.Is(err, ErrNoAvailableInstance):
		return KindNoAvailableInstance
	case errors.Is(err, ErrUpstreamTimeout):
		return KindUpstreamTimeout
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}

// RouteNotFoundError reports that no registered pattern matched a path.
type RouteNotFoundError struct {
	Path   string
	Method string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrRouteNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Path: path, Method: method}
}

// AuthError reports an authentication or authorization failure.
type AuthError struct {
	Reason    string
	Forbidden bool
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Forbidden {
		return fmt.Sprintf("forbidden: %s", e.Reason)
	}
	return fmt.Sprintf("unauthenticated: %s", e.Reason)
}

// Is checks if the error matches the target.
func (e *AuthError) Is(target error) bool {
	if e.Forbidden && target == ErrForbidden {
		return true
	}
	if !e.Forbidden && target == ErrUnauthenticated {
		return true
	}
	_, ok := target.(*AuthError)
	return ok
}

// NewUnauthenticatedError creates an AuthError for a missing or bad credential.
func NewUnauthenticatedError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

// NewForbiddenError creates an AuthError for an identity lacking required roles.
func NewForbiddenError(reason string) *AuthError {
	return &AuthError{Reason: reason, Forbidden: true}
}

// RateLimitError reports a rejected request together with the configured
// limit and window so the caller can build Retry-After style responses.
type RateLimitError struct {
	Limit  int
	Window time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d per %v)", e.Limit, e.Window)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit int, window time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, Window: window}
}

// CircuitOpenError reports a call rejected by an open circuit breaker.
type CircuitOpenError struct {
	Target string
	State  string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Target, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrServiceUnavailable {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(target, state string) *CircuitOpenError {
	return &CircuitOpenError{Target: target, State: state}
}

// UpstreamError reports a failed forward call to a backend instance.
type UpstreamError struct {
	Service string
	Target  string
	Cause   error
	Timeout bool
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream %s (%s) timed out: %v", e.Service, e.Target, e.Cause)
	}
	return fmt.Sprintf("upstream %s (%s) failed: %v", e.Service, e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if e.Timeout && target == ErrUpstreamTimeout {
		return true
	}
	if target == ErrServiceUnavailable {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(service, target string, cause error, timeout bool) *UpstreamError {
	return &UpstreamError{Service: service, Target: target, Cause: cause, Timeout: timeout}
}

// PoolExhaustedError reports a pool acquisition that timed out at capacity.
type PoolExhaustedError struct {
	Target   string
	Capacity int
	Waited   time.Duration
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool for %s exhausted (capacity: %d, waited: %v)",
		e.Target, e.Capacity, e.Waited)
}

// Is checks if the error matches the target.
func (e *PoolExhaustedError) Is(target error) bool {
	if target == ErrPoolExhausted {
		return true
	}
	_, ok := target.(*PoolExhaustedError)
	return ok
}

// NewPoolExhaustedError creates a new PoolExhaustedError.
func NewPoolExhaustedError(target string, capacity int, waited time.Duration) *PoolExhaustedError {
	return &PoolExhaustedError{Target: target, Capacity: capacity, Waited: waited}
}

// DiscoveryError reports a discovery lookup failure with no usable cache entry.
type DiscoveryError struct {
	Service string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("service discovery unavailable for %s: %v", e.Service, e.Cause)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *DiscoveryError) Is(target error) bool {
	if target == ErrDiscoveryUnavailable {
		return true
	}
	_, ok := target.(*DiscoveryError)
	return ok || errors.Is(e.Cause, target)
}

// NewDiscoveryError creates a new DiscoveryError.
func NewDiscoveryError(service string, cause error) *DiscoveryError {
	return &DiscoveryError{Service: service, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
