// Package metrics holds the prometheus collectors shared by the API, the
// worker, and the synthesizer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	synthDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dbstack",
			Name:      "synth_duration_seconds",
			Help:      "Duration of template synthesis in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	deploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbstack",
			Name:      "deployments_total",
			Help:      "Total number of provisioning runs by action and result",
		},
		[]string{"action", "result"},
	)

	deploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbstack",
			Name:      "deployment_duration_seconds",
			Help:      "Duration of provisioning runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43m
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		synthDuration,
		deploymentsTotal,
		deploymentDuration,
	)
}

// ObserveSynth records one synthesis run.
func ObserveSynth(seconds float64) {
	synthDuration.Observe(seconds)
}

// RecordDeployment records the outcome of one provisioning run.
func RecordDeployment(action string, err error, seconds float64) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	deploymentsTotal.WithLabelValues(action, result).Inc()
	deploymentDuration.WithLabelValues(action).Observe(seconds)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
