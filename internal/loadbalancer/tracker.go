package loadbalancer

import "sync"

// ActiveTracker counts in-flight connections per backend target. The
// connection pool increments a target's count at checkout and decrements
// it on release; the least-connections balancer reads the counts.
type ActiveTracker struct {
	mu     sync.RWMutex
	counts map[string]int64
}

// NewActiveTracker creates a new tracker.
func NewActiveTracker() *ActiveTracker {
	return &ActiveTracker{counts: make(map[string]int64)}
}

// Increment records a connection checkout for a target.
func (t *ActiveTracker) Increment(target string) {
	t.mu.Lock()
	t.counts[target]++
	t.mu.Unlock()
}

// Decrement records a connection release for a target.
func (t *ActiveTracker) Decrement(target string) {
	t.mu.Lock()
	if t.counts[target] > 0 {
		t.counts[target]--
	}
	t.mu.Unlock()
}

// Count returns the in-flight connection count for a target.
func (t *ActiveTracker) Count(target string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[target]
}
