// Package metrics exports store operation counters to Prometheus.
package metrics

import (
	"context"

	"github.com/maruel/docdb/internal/docstore"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a docstore.Listener maintaining Prometheus collectors on its own
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	writes     prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdb_operations_total",
			Help: "Store operations by outcome",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdb_operation_duration_seconds",
			Help:    "Latency of completed store operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docdb_writes_total",
			Help: "Durable file replacements, data and index files included",
		}),
	}
	m.Registry.MustRegister(m.operations, m.duration, m.writes)
	return m
}

// HandleEvent implements docstore.Listener.
func (m *Metrics) HandleEvent(_ context.Context, ev docstore.Event) {
	if ev.Op == docstore.OpWrite {
		m.writes.Inc()
		return
	}
	switch ev.Phase {
	case docstore.PhaseAfter:
		m.operations.WithLabelValues(string(ev.Op), "ok").Inc()
		m.duration.WithLabelValues(string(ev.Op)).Observe(ev.Duration.Seconds())
	case docstore.PhaseError:
		m.operations.WithLabelValues(string(ev.Op), string(docstore.CodeOf(ev.Err))).Inc()
		m.duration.WithLabelValues(string(ev.Op)).Observe(ev.Duration.Seconds())
	}
}

// WriteFile writes the current values in the text exposition format, for
// the node_exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
