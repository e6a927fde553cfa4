package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stateChangesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_circuit_breaker_state_changes_total",
		Help: "Total number of circuit breaker state transitions",
	},
	[]string{"target", "from", "to"},
)

func recordStateChange(target string, from, to State) {
	stateChangesTotal.WithLabelValues(target, from.String(), to.String()).Inc()
}
