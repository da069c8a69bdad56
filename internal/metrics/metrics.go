// Package metrics holds the prometheus collectors of the ingest service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scingest"

// Metrics groups the collectors. The zero value is not usable; use New.
type Metrics struct {
	registry *prometheus.Registry

	Transformations        *prometheus.CounterVec
	TransformationDuration *prometheus.HistogramVec
	Runs                   *prometheus.CounterVec
	RunsInFlight           prometheus.Gauge
	Vectors                prometheus.Counter
	StagedBytes            prometheus.Counter
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transformations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transformations_total",
			Help:      "On-disk transformations by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		TransformationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transformation_duration_seconds",
			Help:      "Duration of on-disk transformations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"purpose"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished ingest runs by status.",
		}, []string{"status"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Ingest runs currently executing.",
		}),
		Vectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_total",
			Help:      "Expression vectors written to the store.",
		}),
		StagedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_bytes_total",
			Help:      "Bytes copied from object storage into the scratch directory.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Transformations,
		m.TransformationDuration,
		m.Runs,
		m.RunsInFlight,
		m.Vectors,
		m.StagedBytes,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransformation records one transformation. It is safe on a nil
// receiver.
func (m *Metrics) ObserveTransformation(purpose string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Transformations.WithLabelValues(purpose, outcome).Inc()
	m.TransformationDuration.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
}

// ObserveRun records a finished run. It is safe on a nil receiver.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

// ObserveVectors records written vectors. It is safe on a nil receiver.
func (m *Metrics) ObserveVectors(n int) {
	if m == nil {
		return
	}
	m.Vectors.Add(float64(n))
}

// AddStaged records staged bytes. It is safe on a nil receiver.
func (m *Metrics) AddStaged(n int64) {
	if m == nil {
		return
	}
	m.StagedBytes.Add(float64(n))
}

// RunStarted increments the in-flight gauge and returns its decrement. It is
// safe on a nil receiver.
func (m *Metrics) RunStarted() (done func()) {
	if m == nil {
		return func() {}
	}
	m.RunsInFlight.Inc()
	return m.RunsInFlight.Dec
}
