// Package metrics defines the Prometheus collectors of the projector.
//
// Every recording method is safe on a nil *Metrics, so components can be
// built without instrumentation in tests and tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "projector"

type Metrics struct {
	// AggregationsTotal counts aggregation runs. Labels: status (ok, error)
	AggregationsTotal *prometheus.CounterVec

	AggregationDuration prometheus.Histogram

	EventsScannedTotal prometheus.Counter

	// MalformedEventsTotal counts events left out of a fold. Labels: reason
	MalformedEventsTotal *prometheus.CounterVec

	ProjectionsTotal prometheus.Counter

	// AppendsTotal counts appended events. Labels: kind (save, drop), status
	AppendsTotal *prometheus.CounterVec

	// JobsTotal counts worker jobs by outcome. Labels: type, status (done, retry, failed)
	JobsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AggregationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Aggregation runs by status.",
		}, []string{"status"}),
		AggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Wall time of one aggregation run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		EventsScannedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_scanned_total",
			Help:      "Event rows read from the event log by aggregations.",
		}),
		MalformedEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Events skipped because they could not be decoded or folded.",
		}, []string{"reason"}),
		ProjectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projections_total",
			Help:      "Projection rows produced by aggregations.",
		}),
		AppendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appends_total",
			Help:      "Events appended to the log by kind and status.",
		}, []string{"kind", "status"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs handled by type and outcome.",
		}, []string{"type", "status"}),
	}
}

func (m *Metrics) RecordAggregation(d time.Duration, rows int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AggregationsTotal.WithLabelValues(status).Inc()
	m.AggregationDuration.Observe(d.Seconds())
	if err == nil {
		m.ProjectionsTotal.Add(float64(rows))
	}
}

func (m *Metrics) RecordScanned() {
	if m == nil {
		return
	}
	m.EventsScannedTotal.Inc()
}

func (m *Metrics) RecordMalformed(reason string) {
	if m == nil {
		return
	}
	m.MalformedEventsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAppend(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AppendsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordJob(typ, status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(typ, status).Inc()
}
