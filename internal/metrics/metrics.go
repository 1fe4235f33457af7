// Package metrics exposes Prometheus counters for push handling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drewfead/ticketd/internal/ticket"
)

const (
	namespace = "ticketd"
	subsystem = "receive"
)

// Push outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics records push handling. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	pushes    *prometheus.CounterVec
	changes   *prometheus.CounterVec
	fields    *prometheus.CounterVec
	watchers  prometheus.Counter
	durations prometheus.Observer
}

// New registers the push metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pushes_total",
			Help:      "Ticket pushes handled, labeled by outcome",
		}, []string{"outcome"}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "changes_total",
			Help:      "Ticket changes applied, labeled by kind (new, update) and patchset type",
		}, []string{"kind", "patchset_type"}),
		fields: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fields_set_total",
			Help:      "Ticket fields set by applied changes, labeled by field",
		}, []string{"field"}),
		watchers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watchers_added_total",
			Help:      "Watchers added by applied changes",
		}),
		durations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "push_duration_seconds",
			Help:      "Time spent handling one ticket push",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RecordPush counts one push outcome and its duration.
func (m *Metrics) RecordPush(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(outcome).Inc()
	m.durations.Observe(elapsed.Seconds())
}

// RecordChange counts an applied change.
func (m *Metrics) RecordChange(isNew bool, c *ticket.Change) {
	if m == nil || c == nil {
		return
	}
	kind := "update"
	if isNew {
		kind = "new"
	}
	psType := "none"
	if c.Patchset != nil {
		psType = string(c.Patchset.Type)
	}
	m.changes.WithLabelValues(kind, psType).Inc()
	for f := range c.Fields {
		m.fields.WithLabelValues(string(f)).Inc()
	}
	m.watchers.Add(float64(len(c.Watch)))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
