package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	ObjectStoreOperationsTotal   *prometheus.CounterVec
	ObjectStoreOperationDuration *prometheus.HistogramVec
	ObjectStoreErrorsTotal       *prometheus.CounterVec

	AssemblyTotal       *prometheus.CounterVec
	AssemblyDuration    *prometheus.HistogramVec
	AssemblyErrorsTotal *prometheus.CounterVec

	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheSizeBytes      *prometheus.GaugeVec

	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	RedisConnectionsActive prometheus.Gauge
	RedisCommandsTotal     *prometheus.CounterVec
	RedisCommandDuration   *prometheus.HistogramVec

	PackagesTotal    prometheus.Gauge
	TagsTotal        prometheus.Gauge
	AvailableTotal   prometheus.Gauge
	ComposesTotal    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		ObjectStoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_objectstore_operations_total",
				Help: "Total number of object store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		ObjectStoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_objectstore_operation_duration_seconds",
				Help:    "Object store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		ObjectStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_objectstore_errors_total",
				Help: "Total number of object store errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		AssemblyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_assembly_total",
				Help: "Total number of repo assembly runs",
			},
			[]string{"tag", "status"},
		),
		AssemblyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_assembly_duration_seconds",
				Help:    "Repo assembly duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tag"},
		),
		AssemblyErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_assembly_errors_total",
				Help: "Total number of repo assembly errors",
			},
			[]string{"tag", "error_type"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_cache_evictions_total",
				Help: "Total number of cache evictions",
			},
			[]string{"cache_type", "reason"},
		),
		CacheSizeBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subatomic_cache_size_bytes",
				Help: "Current cache size in bytes",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subatomic_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
		RedisCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subatomic_redis_command_duration_seconds",
				Help:    "Redis command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		PackagesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_packages_total",
				Help: "Total number of package records",
			},
		),
		TagsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_tags_total",
				Help: "Total number of tags",
			},
		),
		AvailableTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_available_packages_total",
				Help: "Total number of packages currently marked available",
			},
		),
		ComposesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subatomic_composes_total",
				Help: "Total number of recorded compose attempts",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.ObjectStoreOperationsTotal,
		m.ObjectStoreOperationDuration,
		m.ObjectStoreErrorsTotal,
		m.AssemblyTotal,
		m.AssemblyDuration,
		m.AssemblyErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheSizeBytes,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.RedisCommandsTotal,
		m.RedisCommandDuration,
		m.PackagesTotal,
		m.TagsTotal,
		m.AvailableTotal,
		m.ComposesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
