package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Validation gate metrics
	GateDecisions  *prometheus.CounterVec
	SecurityEvents *prometheus.CounterVec
	RateLimitHits  prometheus.Counter

	// Aggregation metrics
	RecomputesTotal      prometheus.Counter
	RecomputeDuration    prometheus.Histogram
	AggregateCacheHits   prometheus.Counter
	AggregateCacheMisses prometheus.Counter
	CoalescedRecomputes  prometheus.Counter

	// Propagation metrics
	DebounceCollapses prometheus.Counter
	FanOutsTotal      prometheus.Counter
	SweepRecomputes   prometheus.Counter

	// Offline continuity metrics
	OfflineQueueDepth  prometheus.Gauge
	OfflineSyncDrained prometheus.Counter
	OfflineSyncFailed  prometheus.Counter
	OfflineCacheServes prometheus.Counter
}

var (
	metrics *Metrics
	once    sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),

			GateDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gate_decisions_total",
					Help: "Validation gate outcomes by decision and failing stage",
				},
				[]string{"decision", "stage"},
			),
			SecurityEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "security_events_total",
					Help: "Security events by type",
				},
				[]string{"event_type"},
			),
			RateLimitHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "rate_limit_hits_total",
					Help: "Submissions rejected by the rate limiter",
				},
			),

			RecomputesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "aggregate_recomputes_total",
					Help: "Total aggregate recomputations",
				},
			),
			RecomputeDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "aggregate_recompute_duration_seconds",
					Help:    "Aggregate recomputation duration in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
				},
			),
			AggregateCacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "aggregate_cache_hits_total",
					Help: "Aggregate cache hits",
				},
			),
			AggregateCacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "aggregate_cache_misses_total",
					Help: "Aggregate cache misses",
				},
			),
			CoalescedRecomputes: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "aggregate_coalesced_recomputes_total",
					Help: "Recompute calls served by an already in-flight computation",
				},
			),

			DebounceCollapses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "propagation_debounce_collapses_total",
					Help: "Change notifications absorbed by an armed debounce timer",
				},
			),
			FanOutsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "propagation_fanouts_total",
					Help: "Aggregate updates fanned out to observers",
				},
			),
			SweepRecomputes: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "propagation_sweep_recomputes_total",
					Help: "Recomputations triggered by the periodic safety sweep",
				},
			),

			OfflineQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "offline_sync_queue_depth",
					Help: "Pending operations in the offline sync queue",
				},
			),
			OfflineSyncDrained: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "offline_sync_drained_total",
					Help: "Offline queue entries successfully synchronized",
				},
			),
			OfflineSyncFailed: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "offline_sync_failed_total",
					Help: "Offline queue entries that failed to synchronize",
				},
			),
			OfflineCacheServes: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "offline_cache_serves_total",
					Help: "Aggregate reads served from the offline cache",
				},
			),
		}
	})
	return metrics
}

// Get returns the metrics singleton, initializing it if needed
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request metrics for every route
func GinMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
