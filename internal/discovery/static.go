package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/apexgw/apexgw/internal/config"
)

// StaticSource serves instance lists fixed at construction time, typically
// from configuration.
type StaticSource struct {
	mu       sync.RWMutex
	services map[string][]Instance
}

// NewStaticSource creates a source from a service-to-instances map.
func NewStaticSource(services map[string][]Instance) *StaticSource {
	copied := make(map[string][]Instance, len(services))
	for name, instances := range services {
		copied[name] = normalize(append([]Instance(nil), instances...))
	}
	return &StaticSource{services: copied}
}

// NewStaticSourceFromConfig creates a source from discovery configuration.
func NewStaticSourceFromConfig(cfg map[string][]config.InstanceConfig) *StaticSource {
	services := make(map[string][]Instance, len(cfg))
	for name, instances := range cfg {
		converted := make([]Instance, 0, len(instances))
		for _, inst := range instances {
			converted = append(converted, Instance{Address: inst.Address, Weight: inst.Weight})
		}
		services[name] = converted
	}
	return NewStaticSource(services)
}

// Lookup implements Source.
func (s *StaticSource) Lookup(_ context.Context, service string) ([]Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances, ok := s.services[service]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", service)
	}
	return append([]Instance(nil), instances...), nil
}

// SetInstances replaces the instance list for a service.
func (s *StaticSource) SetInstances(service string, instances []Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[service] = normalize(append([]Instance(nil), instances...))
}
