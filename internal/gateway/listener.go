package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/pipeline"
)

// Server exposes the gateway over HTTP, with metrics and health
// endpoints alongside the proxied routes.
type Server struct {
	gateway *Gateway
	logger  observability.Logger
	engine  *gin.Engine
	srv     *http.Server
}

// NewServer creates the HTTP front for a gateway.
func NewServer(gw *Gateway, listen string, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		gateway: gw,
		logger:  logger,
		engine:  engine,
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.NoRoute(s.handle)

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start serves requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		observability.String("address", s.srv.Addr),
	)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handle(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"kind":    "internal",
				"message": "failed to read request body",
			}})
			return
		}
		body = data
	}

	headers := make(map[string]string, len(c.Request.Header)+1)
	for name := range c.Request.Header {
		headers[name] = c.Request.Header.Get(name)
	}
	if _, ok := headers["X-Forwarded-For"]; !ok {
		headers["X-Forwarded-For"] = c.ClientIP()
	}

	resp := s.gateway.Handle(c.Request.Context(), c.Request.Method, c.Request.URL.Path, headers, body)

	for name, value := range resp.Headers {
		c.Header(name, value)
	}
	c.Data(resp.StatusCode, contentType(resp), resp.Body)
}

func contentType(resp *pipeline.Response) string {
	for name, value := range resp.Headers {
		if http.CanonicalHeaderKey(name) == "Content-Type" {
			return value
		}
	}
	return "application/octet-stream"
}
