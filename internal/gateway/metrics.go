package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests handled, by route pattern and status code",
		},
		[]string{"route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	requestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_errors_total",
			Help: "Total number of failed requests, by route pattern and error kind",
		},
		[]string{"route", "kind"},
	)

	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of responses served from the response cache",
		},
		[]string{"route"},
	)
)

func recordRequest(route string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func recordError(route, kind string) {
	requestErrorsTotal.WithLabelValues(route, kind).Inc()
}

func recordCacheHit(route string) {
	cacheHitsTotal.WithLabelValues(route).Inc()
}
