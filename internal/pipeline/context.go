// Package pipeline runs requests through an ordered chain of middleware
// stages and a forwarding step.
package pipeline

import (
	"strings"

	"github.com/google/uuid"

	"github.com/apexgw/apexgw/internal/auth"
	"github.com/apexgw/apexgw/internal/router"
)

// Request is an inbound request in transport-neutral form.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Header returns a header value by case-insensitive name.
func (r *Request) Header(name string) string {
	if value, ok := r.Headers[name]; ok {
		return value
	}
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// Response is the result returned to the caller.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// RequestContext carries one request through the pipeline.
type RequestContext struct {
	// ID is a unique request identifier used in logs.
	ID string

	// Request is the inbound request. Stages must not mutate it; the
	// forwarder builds its own upstream copy.
	Request *Request

	// Route is the resolved route.
	Route *router.Route

	// Identity is set by the authentication stage.
	Identity *auth.Identity

	// Response is set by the forwarder, or by a short-circuiting stage.
	Response *Response

	// CacheHit marks a response served from the cache stage.
	CacheHit bool

	// CacheKey is set by the cache stage on a miss so the response side
	// knows where to store the result.
	CacheKey string
}

// NewRequestContext creates a context for one inbound request.
func NewRequestContext(method, path string, headers map[string]string, body []byte, route *router.Route) *RequestContext {
	return &RequestContext{
		ID: uuid.NewString(),
		Request: &Request{
			Method:  strings.ToUpper(method),
			Path:    path,
			Headers: headers,
			Body:    body,
		},
		Route: route,
	}
}
