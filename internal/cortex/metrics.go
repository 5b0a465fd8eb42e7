package cortex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for one cortex. It also observes the
// cortex's transaction manager.
type Metrics struct {
	// Row mutations
	rowsAdded   prometheus.Counter
	rowsDeleted prometheus.Counter

	// Transaction outcomes
	commits prometheus.Counter
	aborts  prometheus.Counter
	flushes prometheus.Counter

	// Delivered events by name
	eventsFired *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics creates the cortex collectors on reg. A nil reg leaves them
// unregistered. name becomes the constant "cortex" label so several
// instances can share one registry.
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"cortex": name}
	m := &Metrics{
		rowsAdded: f.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_rows_added_total",
			Help:        "Total number of rows added",
			ConstLabels: labels,
		}),
		rowsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_rows_deleted_total",
			Help:        "Total number of rows deleted",
			ConstLabels: labels,
		}),
		commits: f.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_xact_commits_total",
			Help:        "Total number of committed storage units",
			ConstLabels: labels,
		}),
		aborts: f.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_xact_aborts_total",
			Help:        "Total number of aborted storage units",
			ConstLabels: labels,
		}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_xact_flushes_total",
			Help:        "Total number of watermark flushes inside a transaction",
			ConstLabels: labels,
		}),
		eventsFired: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "cortex_events_fired_total",
			Help:        "Total number of events delivered after commit",
			ConstLabels: labels,
		}, []string{"event"}),
	}
	m.reg = reg
	return m
}

// Unregister removes the collectors from the registerer they were created
// on, so a cortex reopened under the same name can register again.
func (m *Metrics) Unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{m.rowsAdded, m.rowsDeleted, m.commits, m.aborts, m.flushes, m.eventsFired} {
		m.reg.Unregister(c)
	}
}

func (m *Metrics) Committed()  { m.commits.Inc() }
func (m *Metrics) Aborted()    { m.aborts.Inc() }
func (m *Metrics) Flushed(int) { m.flushes.Inc() }
