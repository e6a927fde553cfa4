// Package discovery resolves logical service names to live backend
// instances, caching results with a TTL.
package discovery

import "context"

// Instance is one addressable backend process serving a logical service.
// Instances are never mutated after creation, only replaced wholesale on
// refresh.
type Instance struct {
	// Address is the host:port of the instance.
	Address string

	// Weight is the relative selection weight, at least 1.
	Weight int
}

// Source produces live instance addresses for a logical service name.
type Source interface {
	// Lookup returns the current instances for a service, in a stable order.
	Lookup(ctx context.Context, service string) ([]Instance, error)
}

// normalize clamps instance weights to at least 1 so a zero-valued weight
// from an external source never drops the instance from weighted rotation.
func normalize(instances []Instance) []Instance {
	for i := range instances {
		if instances[i].Weight < 1 {
			instances[i].Weight = 1
		}
	}
	return instances
}
