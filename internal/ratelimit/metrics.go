package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter, by algorithm",
	},
	[]string{"algorithm"},
)

func recordRejection(algorithm string) {
	rejectionsTotal.WithLabelValues(algorithm).Inc()
}
