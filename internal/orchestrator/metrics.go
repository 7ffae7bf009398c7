package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/storefleet/internal/model"
)

// Teardown operation label values.
const (
	OpUninstall       = "uninstall"
	OpDeleteNamespace = "delete-namespace"
)

var (
	provisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefleet_provisions_total",
			Help: "Total number of finished store workflows by engine and final status.",
		},
		[]string{"engine", "status"},
	)

	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefleet_provision_duration_seconds",
			Help:    "Duration of store workflows from start to final status, in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"engine"},
	)

	stepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefleet_step_failures_total",
			Help: "Total number of failed workflow steps by engine, step and policy.",
		},
		[]string{"engine", "step", "policy"},
	)

	teardownFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefleet_teardown_failures_total",
			Help: "Total number of failed teardown operations during store deletion.",
		},
		[]string{"operation"},
	)

	workflowsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefleet_workflows_in_flight",
			Help: "Number of store workflows currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(provisionsTotal)
	prometheus.MustRegister(provisionDuration)
	prometheus.MustRegister(stepFailuresTotal)
	prometheus.MustRegister(teardownFailuresTotal)
	prometheus.MustRegister(workflowsInFlight)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, engine := range []string{model.EngineWooCommerce, model.EngineMedusa} {
		provisionsTotal.WithLabelValues(engine, model.StatusReady)
		provisionsTotal.WithLabelValues(engine, model.StatusFailed)
	}
	teardownFailuresTotal.WithLabelValues(OpUninstall)
	teardownFailuresTotal.WithLabelValues(OpDeleteNamespace)
}
