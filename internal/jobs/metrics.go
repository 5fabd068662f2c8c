// Package jobs provides metrics for recomputation job phases.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRecomputePhasesTotal     = "recompute_phases_total"
	MetricRecomputePhaseDuration   = "recompute_phase_duration_seconds"
	MetricAudienceBlobRetriesTotal = "audience_blob_retries_total"
)

// Status constants for phase completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for recomputation jobs.
// All operations are thread-safe.
type Metrics struct {
	phasesTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	blobRetries   prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		phasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecomputePhasesTotal,
				Help: "Total number of recompute phase executions by phase and status",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRecomputePhaseDuration,
				Help:    "Recompute phase duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"phase"},
		),
		blobRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricAudienceBlobRetriesTotal,
				Help: "Total number of retried audience blob writes",
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.phasesTotal, m.phaseDuration, m.blobRetries} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObservePhase records one phase execution.
func (m *Metrics) ObservePhase(phase string, success bool, elapsed time.Duration) {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.phasesTotal.WithLabelValues(phase, status).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordBlobRetry counts one retried audience blob write.
func (m *Metrics) RecordBlobRetry() {
	m.blobRetries.Inc()
}
