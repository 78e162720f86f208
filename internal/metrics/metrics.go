// Package metrics owns the Prometheus registry and the collectors the
// service exports on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is private to the process so tests can read values without
	// interference from the global default registry.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eduvault",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eduvault",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// CertificationOps counts ledger operations by outcome ("ok" or the
	// error class).
	CertificationOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eduvault",
		Name:      "certification_operations_total",
		Help:      "Certification ledger operations by operation and outcome.",
	}, []string{"op", "outcome"})

	SessionOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eduvault",
		Name:      "session_operations_total",
		Help:      "Login, refresh and logout attempts by role and outcome.",
	}, []string{"op", "role", "outcome"})

	ReconcileFindings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eduvault",
		Name:      "reconcile_findings",
		Help:      "Inconsistencies found by the last reconciliation run, by kind.",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration, CertificationOps, SessionOps, ReconcileFindings,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
