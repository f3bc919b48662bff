package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scan",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "provider_requests_total",
		Help:      "Total requests to search providers by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scan",
		Name:      "provider_request_duration_seconds",
		Help:      "Search provider request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scan",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	PlanStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "plan_steps_total",
		Help:      "Executed search plan steps by result status.",
	}, []string{"status"})

	PlanRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "plan_runs_total",
		Help:      "Completed plan runs by terminal state.",
	}, []string{"state"})

	PlanCandidatesFound = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scan",
		Name:      "plan_candidates_found",
		Help:      "Merged candidate count per completed plan run.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
	})

	HealthProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "health_probes_total",
		Help:      "Channel health probes by final classification.",
	}, []string{"health"})

	HealthProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scan",
		Name:      "health_probe_duration_seconds",
		Help:      "Single channel probe duration in seconds, retries included.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	})

	ImportItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "import_items_total",
		Help:      "Processed import candidates by outcome.",
	}, []string{"outcome"})

	DNSProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scan",
		Name:      "dns_probes_total",
		Help:      "Preflight DNS probes by outcome.",
	}, []string{"outcome"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		PlanStepsTotal,
		PlanRunsTotal,
		PlanCandidatesFound,
		HealthProbesTotal,
		HealthProbeDuration,
		ImportItemsTotal,
		DNSProbesTotal,
	)
}
