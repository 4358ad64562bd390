// Package metrics provides Prometheus instrumentation for whichdex.
//
// Every recorder is a no-op until Init is called with metrics enabled, so
// domain code can record unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whichdex"

var (
	enabled     bool
	serviceName string

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	analysisTotal  *prometheus.CounterVec
	compareTotal   *prometheus.CounterVec
	rpcFetchErrors prometheus.Counter

	referenceRegisterTotal *prometheus.CounterVec
	referenceMatchTotal    *prometheus.CounterVec
)

// Init registers the collectors on the default registry. It must be called at
// most once per process.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName
	if !enabled {
		return
	}

	constLabels := prometheus.Labels{"service": svcName}
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}

	httpRequestsTotal = counter("http", "requests_total",
		"HTTP requests by method, route and status.", "method", "route", "status")
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "HTTP request latency by method and route.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"method", "route"})

	analysisTotal = counter("", "analysis_total",
		"Contracts analyzed, by identified protocol and whether a minimal proxy was followed.", "protocol", "proxy")
	compareTotal = counter("", "compare_total",
		"Bytecode comparisons, by match type.", "match_type")
	rpcFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "rpc_fetch_errors_total",
		Help:        "Failed bytecode fetches.",
		ConstLabels: constLabels,
	})

	referenceRegisterTotal = counter("reference", "register_total",
		"Reference registrations, by protocol and outcome.", "protocol", "status")
	referenceMatchTotal = counter("reference", "match_total",
		"Reference match queries, by closest similarity tier.", "similarity")
}

// Handler serves the default registry, or 404 when metrics are disabled.
func Handler() http.Handler {
	if !enabled {
		return http.NotFoundHandler()
	}
	return promhttp.Handler()
}

// Enabled reports whether Init enabled metrics.
func Enabled() bool {
	return enabled
}

// ServiceName returns the service label set by Init.
func ServiceName() string {
	return serviceName
}
