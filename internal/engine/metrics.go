package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. Construct with NewMetrics; a nil *Metrics
// is valid and counts nothing.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	generations  prometheus.Counter
	evaluations  prometheus.Counter
	bestFitness  prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg. A nil Registerer leaves
// them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "engine",
			Name:      "runs_started_total",
			Help:      "Evolution runs accepted by the engine.",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "engine",
			Name:      "runs_finished_total",
			Help:      "Evolution runs by terminal status.",
		}, []string{"status"}),
		generations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Generations evaluated across all runs.",
		}),
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athanor",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Individual evaluations dispatched, cached or not.",
		}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "athanor",
			Subsystem: "engine",
			Name:      "best_fitness",
			Help:      "Best raw fitness of the most recent generation.",
		}),
	}
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.runsStarted.Inc()
	}
}

func (m *Metrics) runFinished(status string) {
	if m != nil {
		m.runsFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) generationDone(best float64, evaluated int) {
	if m != nil {
		m.generations.Inc()
		m.evaluations.Add(float64(evaluated))
		m.bestFitness.Set(best)
	}
}
