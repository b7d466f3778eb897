package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployd_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	DeploymentsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_deployments_started_total",
			Help: "Total number of deployment pipelines started",
		},
	)

	DeploymentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_deployments_failed_total",
			Help: "Total number of deployments that ended in failed state",
		},
	)

	DeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_deploy_duration_seconds",
			Help:    "Time from Deploy call to running state in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	SandboxesReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_sandboxes_reaped_total",
			Help: "Total number of sandboxes reaped by reason",
		},
		[]string{"reason"},
	)

	// Autoscaler metrics
	ScalingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_scaling_decisions_total",
			Help: "Total number of scaling decisions by action",
		},
		[]string{"action"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_autoscale_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one scaling policy in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LogHub metrics
	LogEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_log_entries_total",
			Help: "Total number of log entries appended",
		},
	)

	LogEntriesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_log_entries_evicted_total",
			Help: "Total number of log entries evicted from ring buffers",
		},
	)

	// Gateway metrics
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deployd_ws_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WSFramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_ws_frames_dropped_total",
			Help: "Total number of log frames dropped on slow subscribers",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Error metrics
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_errors_total",
			Help: "Total number of classified errors by category and component",
		},
		[]string{"category", "component"},
	)

	// Health metrics
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployd_health_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"probe"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployd_circuit_breaker_state",
			Help: "Circuit breaker state per probe (0 = closed, 1 = open, 2 = half_open)",
		},
		[]string{"probe"},
	)
)

func init() {
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentsStarted)
	prometheus.MustRegister(DeploymentsFailed)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(SandboxesReaped)
	prometheus.MustRegister(ScalingDecisions)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(LogEntriesTotal)
	prometheus.MustRegister(LogEntriesEvicted)
	prometheus.MustRegister(WSConnections)
	prometheus.MustRegister(WSFramesDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(BreakerState)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
