// Package loadbalancer selects one backend instance from a candidate set.
// Each route owns one balancer, so rotation state is shared by every
// request on that route.
package loadbalancer

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/discovery"
	"github.com/apexgw/apexgw/internal/util"
)

// Balancer selects one instance from an ordered candidate set.
type Balancer interface {
	// Select picks an instance. It fails with NoAvailableInstance when
	// candidates is empty.
	Select(candidates []discovery.Instance) (discovery.Instance, error)
}

// New creates a balancer for the given strategy name. An unknown or empty
// strategy falls back to round robin.
func New(strategy string, tracker *ActiveTracker) Balancer {
	switch strategy {
	case config.StrategyWeightedRoundRobin:
		return NewWeightedRoundRobin()
	case config.StrategyLeastConnections:
		return NewLeastConnections(tracker)
	default:
		return NewRoundRobin()
	}
}

// RoundRobin cycles through candidates with an atomic shared cursor.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates a round robin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select implements Balancer.
func (b *RoundRobin) Select(candidates []discovery.Instance) (discovery.Instance, error) {
	if len(candidates) == 0 {
		return discovery.Instance{}, util.ErrNoAvailableInstance
	}

	idx := b.cursor.Add(1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

// WeightedRoundRobin applies round robin over a virtual sequence in which
// each instance appears Weight times, in original order. The expansion is
// recomputed only when the candidate set changes.
type WeightedRoundRobin struct {
	cursor atomic.Uint64

	mu        sync.Mutex
	signature string
	expanded  []discovery.Instance
}

// NewWeightedRoundRobin creates a weighted round robin balancer.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

// Select implements Balancer.
func (b *WeightedRoundRobin) Select(candidates []discovery.Instance) (discovery.Instance, error) {
	if len(candidates) == 0 {
		return discovery.Instance{}, util.ErrNoAvailableInstance
	}

	expanded := b.expansion(candidates)

	idx := b.cursor.Add(1) - 1
	return expanded[idx%uint64(len(expanded))], nil
}

// expansion returns the cached virtual sequence, rebuilding it when the
// candidate set changed since the last call.
func (b *WeightedRoundRobin) expansion(candidates []discovery.Instance) []discovery.Instance {
	signature := signatureOf(candidates)

	b.mu.Lock()
	defer b.mu.Unlock()

	if signature == b.signature && len(b.expanded) > 0 {
		return b.expanded
	}

	total := 0
	for _, inst := range candidates {
		weight := inst.Weight
		if weight < 1 {
			weight = 1
		}
		total += weight
	}

	expanded := make([]discovery.Instance, 0, total)
	for _, inst := range candidates {
		weight := inst.Weight
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			expanded = append(expanded, inst)
		}
	}

	b.signature = signature
	b.expanded = expanded
	b.cursor.Store(0)

	return expanded
}

// LeastConnections picks the instance with the fewest in-flight
// connections, breaking ties by candidate order.
type LeastConnections struct {
	tracker *ActiveTracker
}

// NewLeastConnections creates a least connections balancer. A nil tracker
// is replaced with a fresh one, which degrades to first-candidate selection.
func NewLeastConnections(tracker *ActiveTracker) *LeastConnections {
	if tracker == nil {
		tracker = NewActiveTracker()
	}
	return &LeastConnections{tracker: tracker}
}

// Select implements Balancer.
func (b *LeastConnections) Select(candidates []discovery.Instance) (discovery.Instance, error) {
	if len(candidates) == 0 {
		return discovery.Instance{}, util.ErrNoAvailableInstance
	}

	selected := candidates[0]
	minCount := b.tracker.Count(selected.Address)

	for _, candidate := range candidates[1:] {
		if count := b.tracker.Count(candidate.Address); count < minCount {
			minCount = count
			selected = candidate
		}
	}

	return selected, nil
}

func signatureOf(candidates []discovery.Instance) string {
	var sb strings.Builder
	for _, inst := range candidates {
		sb.WriteString(inst.Address)
		sb.WriteByte('#')
		sb.WriteString(strconv.Itoa(inst.Weight))
		sb.WriteByte('|')
	}
	return sb.String()
}
