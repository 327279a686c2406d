package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache traffic. Construct with NewMetrics; a nil *Metrics is
// valid and counts nothing.
type Metrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	computations    prometheus.Counter
	computeFailures prometheus.Counter
	leaseWaits      prometheus.Counter
}

// NewMetrics registers the cache counters on reg. A nil Registerer leaves
// the counters unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Artifacts served from the store without computing.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Requests that required a computation.",
		}),
		computations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "cache",
			Name:      "computations_total",
			Help:      "Compute invocations started.",
		}),
		computeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "cache",
			Name:      "compute_failures_total",
			Help:      "Compute invocations that returned an error.",
		}),
		leaseWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "cache",
			Name:      "lease_waits_total",
			Help:      "Requests that blocked on another caller's lease.",
		}),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) computation() {
	if m != nil {
		m.computations.Inc()
	}
}

func (m *Metrics) computeFailure() {
	if m != nil {
		m.computeFailures.Inc()
	}
}

func (m *Metrics) leaseWait() {
	if m != nil {
		m.leaseWaits.Inc()
	}
}
