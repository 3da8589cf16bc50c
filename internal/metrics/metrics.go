package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// IntakeOutcomes counts pipeline decisions per submitted request.
	IntakeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_intake_outcomes_total",
			Help: "Intake pipeline outcomes (accepted, duplicate, deferred, skipped, ...)",
		},
		[]string{"outcome"},
	)

	// DependencyRequests counts profile-service resolutions by result.
	DependencyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_dependency_requests_total",
			Help: "Profile dependency call results",
		},
		[]string{"result"},
	)

	DependencyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifyd_dependency_latency_seconds",
			Help:    "Latency of profile dependency calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BreakerState exposes the circuit breaker mode: 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyd_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"to"},
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_publish_total",
			Help: "Broker publishes by routing key and result",
		},
		[]string{"routing_key", "result"},
	)

	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_reconcile_total",
			Help: "Status reconciliation results",
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(
		HTTPRequests,
		RequestDuration,
		IntakeOutcomes,
		DependencyRequests,
		DependencyLatency,
		BreakerState,
		BreakerTransitions,
		PublishTotal,
		ReconcileTotal,
	)
}
