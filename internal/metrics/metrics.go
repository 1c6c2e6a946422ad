package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the sport server
type Metrics struct {
	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamErrorsTotal     *prometheus.CounterVec

	// Cache metrics
	CacheOperations  *prometheus.CounterVec
	CacheStaleServed prometheus.Counter

	// Fetch pipeline metrics
	ResolveTotal         *prometheus.CounterVec
	FallbackByDateTotal  prometheus.Counter
	FallbackDateFailures prometheus.Counter

	// Scheduler metrics
	ActiveTopics     prometheus.Gauge
	SchedulerTicks   *prometheus.CounterVec
	TopicsSweptTotal prometheus.Counter

	// Broadcast metrics
	BroadcastsTotal   *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// Upstream metrics
	m.UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_upstream_requests_total",
			Help: "Total number of upstream provider requests",
		},
		[]string{"sport", "kind"},
	)

	m.UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sport_upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // from 10ms to ~40s
		},
		[]string{"sport"},
	)

	m.UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_upstream_errors_total",
			Help: "Total number of upstream errors by class",
		},
		[]string{"sport", "class"},
	)

	// Cache metrics
	m.CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"op"},
	)

	m.CacheStaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sport_cache_stale_served_total",
			Help: "Total number of stale cache entries served as fallback",
		},
	)

	// Fetch pipeline metrics
	m.ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_resolve_total",
			Help: "Total number of resolve calls by outcome",
		},
		[]string{"outcome"},
	)

	m.FallbackByDateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sport_fallback_by_date_total",
			Help: "Total number of fallback-by-date batches issued",
		},
	)

	m.FallbackDateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sport_fallback_date_failures_total",
			Help: "Total number of failed per-date calls inside fallback batches",
		},
	)

	// Scheduler metrics
	m.ActiveTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sport_scheduler_active_topics",
			Help: "Number of topics with an armed refresh timer",
		},
	)

	m.SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_scheduler_ticks_total",
			Help: "Total number of refresh timer ticks by outcome",
		},
		[]string{"outcome"},
	)

	m.TopicsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sport_scheduler_topics_swept_total",
			Help: "Total number of topics demoted to idle by the sweep",
		},
	)

	// Broadcast metrics
	m.BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_broadcasts_total",
			Help: "Total number of published updates",
		},
		[]string{"kind"},
	)

	m.ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sport_connections_active",
			Help: "Number of active subscriber connections",
		},
	)

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sport_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sport_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	return m
}
