package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/apexgw/apexgw/internal/pipeline"
	"github.com/apexgw/apexgw/internal/pool"
)

// httpConn is the pooled transport handle for one upstream connection.
// MaxConnsPerHost pins it to a single underlying connection so the pool's
// capacity accounting stays accurate.
type httpConn struct {
	client *http.Client
}

// Close implements pool.Handle.
func (c *httpConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// NewHTTPDialer returns a pool dialer producing HTTP connection handles.
func NewHTTPDialer(dialTimeout time.Duration) pool.Dialer {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	return func(_ context.Context, _ string) (pool.Handle, error) {
		transport := &http.Transport{
			DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
			MaxConnsPerHost:     1,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
		}
		return &httpConn{client: &http.Client{
			Transport: transport,
			// Per-request deadlines come from the caller's context.
			Timeout: 0,
		}}, nil
	}
}

// HTTPTransport sends requests over httpConn handles.
type HTTPTransport struct{}

// NewHTTPTransport creates the default HTTP transport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{}
}

// Send implements pipeline.Transport.
func (t *HTTPTransport) Send(ctx context.Context, handle pool.Handle, target string, req *pipeline.Request) (*pipeline.Response, error) {
	conn, ok := handle.(*httpConn)
	if !ok {
		return nil, fmt.Errorf("unexpected handle type %T", handle)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, "http://"+target+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	httpResp, err := conn.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for name := range httpResp.Header {
		headers[name] = httpResp.Header.Get(name)
	}

	return &pipeline.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}
