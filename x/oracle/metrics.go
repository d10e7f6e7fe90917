package oracle

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/oracle/metrics"
)

// Metrics are the service's prometheus collectors.
type Metrics struct {
	Operations     *prometheus.CounterVec
	VerifyDuration *prometheus.HistogramVec
	BatchSize      prometheus.Histogram
	JobsInProgress prometheus.Gauge
}

// NewMetrics registers collectors under oracle_service_*.
func NewMetrics(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		Operations: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_total",
			Help: "Service operations by name and outcome code",
		}, []string{"op", "code"}),
		VerifyDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verify_duration_seconds",
			Help:    "Proof verification latency by backend and verdict",
			Buckets: metrics.DurationBuckets,
		}, []string{"backend", "verdict"}),
		BatchSize: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Items per batched result submission",
			Buckets: metrics.CountBuckets,
		}),
		JobsInProgress: reg.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_progress",
			Help: "Jobs in the store awaiting a result",
		}),
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	code := "ok"
	var batchErr *BatchError
	switch {
	case errors.As(err, &batchErr):
		code = "partial"
	case err != nil:
		code = KindOf(err).String()
	}
	m.Operations.WithLabelValues(op, code).Inc()
}
