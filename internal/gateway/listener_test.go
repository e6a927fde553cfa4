package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/pipeline"
)

func TestServerProxiesThroughGateway(t *testing.T) {
	var gotPath, gotBody string
	transport := &fakeTransport{
		send: func(_ string, req *pipeline.Request) (*pipeline.Response, error) {
			gotPath = req.Path
			gotBody = string(req.Body)
			return &pipeline.Response{
				StatusCode: 201,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       []byte(`{"created":true}`),
			}, nil
		},
	}
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), transport)

	server := NewServer(gw, ":0", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 201, rec.Code)
	assert.JSONEq(t, `{"created":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "/api/users", gotPath)
	assert.JSONEq(t, `{"name":"alice"}`, gotBody)
}

func TestServerRendersGatewayErrors(t *testing.T) {
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), okTransport())

	server := NewServer(gw, ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route_not_found")
}

func TestServerHealthAndMetricsEndpoints(t *testing.T) {
	gw := newTestGateway(t, baseConfig(
		config.Route{Pattern: "/api/*", Service: "svc"},
	), okTransport())

	server := NewServer(gw, ":0", nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
