package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/apexgw/apexgw/internal/observability"
)

// ConsulSource resolves services through the Consul health API, returning
// only instances that pass their health checks.
type ConsulSource struct {
	client *consulapi.Client
	logger observability.Logger
}

// ConsulSourceOption is a functional option for the source.
type ConsulSourceOption func(*ConsulSource)

// WithConsulLogger sets the logger for the source.
func WithConsulLogger(logger observability.Logger) ConsulSourceOption {
	return func(s *ConsulSource) {
		s.logger = logger
	}
}

// NewConsulSource creates a Consul-backed discovery source.
func NewConsulSource(address string, opts ...ConsulSourceOption) (*ConsulSource, error) {
	cfg := consulapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	s := &ConsulSource{
		client: client,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Lookup implements Source.
func (s *ConsulSource) Lookup(ctx context.Context, service string) ([]Instance, error) {
	entries, _, err := s.client.Health().Service(service, "", true,
		(&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul lookup for %s failed: %w", service, err)
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		addr := entry.Service.Address
		if addr == "" {
			addr = entry.Node.Address
		}
		if addr == "" {
			continue
		}

		weight := entry.Service.Weights.Passing

		instances = append(instances, Instance{
			Address: net.JoinHostPort(addr, strconv.Itoa(entry.Service.Port)),
			Weight:  weight,
		})
	}

	if len(instances) == 0 {
		s.logger.Warn("service has no healthy instances",
			observability.String("service", service),
		)
	}

	return normalize(instances), nil
}
