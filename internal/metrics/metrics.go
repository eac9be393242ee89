// Package metrics exposes Prometheus instrumentation for pipeline
// execution and the HTTP surface in front of it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/histogram this process exports.
type Metrics struct {
	PipelineInvocations *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loomgate_pipeline_invocations_total",
			Help: "Pipeline step invocations by route, step and outcome.",
		}, []string{"route", "step", "outcome"}),

		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loomgate_pipeline_duration_seconds",
			Help:    "Time spent executing a single pipeline step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "step"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loomgate_http_requests_total",
			Help: "Inbound HTTP requests by route and response status.",
		}, []string{"route", "status"}),
	}
}

// Handler returns the /metrics scrape endpoint for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
