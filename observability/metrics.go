package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Workflow metrics
	WorkflowRunsTotal   *prometheus.CounterVec
	WorkflowDuration    *prometheus.HistogramVec
	WorkflowErrorsTotal *prometheus.CounterVec

	// Automation sweep metrics
	SweepsTotal       *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	SweepUsersVisited prometheus.Histogram

	// Agent metrics
	AgentDuration    *prometheus.HistogramVec
	AgentErrorsTotal *prometheus.CounterVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Credential metrics
	CredentialRefreshTotal  *prometheus.CounterVec
	CredentialLoadsTotal    *prometheus.CounterVec
	QuotaRejectionsTotal    prometheus.Counter
	DefaultKeyRequestsTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// sweepBuckets are histogram buckets for full automation sweeps (in seconds)
var sweepBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Workflow metrics
		WorkflowRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Total number of workflow runs",
			},
			[]string{"workflow", "trigger", "status"},
		),
		WorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"workflow"},
		),
		WorkflowErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "workflow",
				Name:      "errors_total",
				Help:      "Total number of workflow errors",
			},
			[]string{"workflow", "error_type"},
		),

		// Automation sweep metrics
		SweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "automation",
				Name:      "sweeps_total",
				Help:      "Total number of automation sweeps",
			},
			[]string{"status"},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "automation",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of automation sweeps in seconds",
				Buckets:   sweepBuckets,
			},
		),
		SweepUsersVisited: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "automation",
				Name:      "sweep_users",
				Help:      "Number of users visited per automation sweep",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
		),

		// Agent metrics
		AgentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "agent",
				Name:      "duration_seconds",
				Help:      "Duration of agent calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider"},
		),
		AgentErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "agent",
				Name:      "errors_total",
				Help:      "Total number of agent errors",
			},
			[]string{"provider", "error_type"},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// Credential metrics
		CredentialRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "credentials",
				Name:      "refresh_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"status"},
		),
		CredentialLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "credentials",
				Name:      "loads_total",
				Help:      "Total number of credential loads by origin",
			},
			[]string{"origin"},
		),
		QuotaRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "quota",
				Name:      "rejections_total",
				Help:      "Total number of default-key requests rejected over quota",
			},
		),
		DefaultKeyRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "quota",
				Name:      "default_key_requests_total",
				Help:      "Total number of requests metered against the default key",
			},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workpilot",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "workpilot",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workpilot",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordWorkflowRun records a completed workflow run
func (m *Metrics) RecordWorkflowRun(workflow, trigger, status string, duration time.Duration) {
	m.WorkflowRunsTotal.WithLabelValues(workflow, trigger, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordWorkflowError records a workflow error
func (m *Metrics) RecordWorkflowError(workflow, errorType string) {
	m.WorkflowErrorsTotal.WithLabelValues(workflow, errorType).Inc()
}

// RecordSweep records a completed automation sweep
func (m *Metrics) RecordSweep(status string, users int, duration time.Duration) {
	m.SweepsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepUsersVisited.Observe(float64(users))
}

// RecordAgentDuration records the duration of an agent call
func (m *Metrics) RecordAgentDuration(provider string, duration time.Duration) {
	m.AgentDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAgentError records an agent error
func (m *Metrics) RecordAgentError(provider, errorType string) {
	m.AgentErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordCredentialRefresh records a token refresh attempt
func (m *Metrics) RecordCredentialRefresh(status string) {
	m.CredentialRefreshTotal.WithLabelValues(status).Inc()
}

// RecordCredentialLoad records a credential load by origin
func (m *Metrics) RecordCredentialLoad(origin string) {
	m.CredentialLoadsTotal.WithLabelValues(origin).Inc()
}

// RecordQuotaRejection records a default-key request rejected over quota
func (m *Metrics) RecordQuotaRejection() {
	m.QuotaRejectionsTotal.Inc()
}

// RecordDefaultKeyRequest records a request metered against the default key
func (m *Metrics) RecordDefaultKeyRequest() {
	m.DefaultKeyRequestsTotal.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveWorkflow records the workflow run with its duration
func (t *Timer) ObserveWorkflow(workflow, trigger, status string) {
	t.metrics.RecordWorkflowRun(workflow, trigger, status, time.Since(t.start))
}

// ObserveAgent records the agent call duration
func (t *Timer) ObserveAgent(provider string) {
	t.metrics.RecordAgentDuration(provider, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
