package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Optimizer operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_operations_total",
			Help: "Total number of recorded optimizer operations",
		},
		[]string{"operation"}, // operation: cache_hit, query_execution, query_error, component_render, memory_optimization
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optimizer_operation_duration_seconds",
			Help:    "Duration of optimizer operations in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 3, 5},
		},
		[]string{"operation"},
	)

	// Cache store metrics
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimizer_cache_entries",
			Help: "Current number of entries in the query cache",
		},
	)

	CacheRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_cache_removals_total",
			Help: "Total number of cache entries removed by eviction or expiry",
		},
		[]string{"reason"}, // reason: capacity, expired
	)

	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimizer_cache_hit_ratio",
			Help: "Cache hit rate over the health evaluation window (0-1)",
		},
	)

	// Telemetry log metrics
	SamplesRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimizer_samples_retained",
			Help: "Number of performance samples currently retained",
		},
	)

	SamplesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_samples_pruned_total",
			Help: "Total number of performance samples pruned by age",
		},
	)

	// Health metrics
	HealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_health_score",
			Help: "Latest health score by kind (0-100)",
		},
		[]string{"kind"}, // kind: performance, stability
	)

	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_health_status",
			Help: "1 for the current overall health classification, 0 otherwise",
		},
		[]string{"status"}, // status: excellent, good, warning, critical
	)

	HealthChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "system_health_checks_total",
			Help: "Total number of health evaluations",
		},
	)

	// Error log metrics
	ErrorsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "error_log_reported_total",
			Help: "Total number of error records reported",
		},
		[]string{"severity"},
	)

	ErrorsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "error_log_pending",
			Help: "Number of unresolved error records",
		},
	)

	// Storage metrics
	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operation_errors_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"operation"}, // operation: get, put, delete, list
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active health stream WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of health snapshots sent to WebSocket clients",
		},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests by route and status class",
		},
		[]string{"route", "status"},
	)

	HTTPRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	HTTPPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_panics_recovered_total",
			Help: "Total number of handler panics recovered",
		},
	)
)
