package entail

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes a forest's activity counters to a Prometheus
// registry. The collectors read the atomic stats directly, so a scrape
// during a solve sees a consistent point-in-time view without locking
// the forest.
type Metrics struct {
	registry *prometheus.Registry

	tablesCreated    prometheus.CounterFunc
	strandsCreated   prometheus.CounterFunc
	answersRecorded  prometheus.CounterFunc
	cyclesDischarged prometheus.CounterFunc
	flounders        prometheus.CounterFunc
}

// NewMetrics builds collectors over a forest's counters and registers
// them on a fresh registry.
func NewMetrics(f *Forest) *Metrics {
	stats := f.Stats()
	m := &Metrics{
		tablesCreated: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "entail_tables_created_total",
				Help: "memo tables created across all queries on this forest",
			},
			func() float64 {
				return float64(stats.TablesCreated.Load())
			},
		),
		strandsCreated: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "entail_strands_created_total",
				Help: "strands created, including per-answer forks",
			},
			func() float64 {
				return float64(stats.StrandsCreated.Load())
			},
		),
		answersRecorded: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "entail_answers_recorded_total",
				Help: "deduplicated answers recorded across all tables",
			},
			func() float64 {
				return float64(stats.AnswersRecorded.Load())
			},
		),
		cyclesDischarged: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "entail_cycles_discharged_total",
				Help: "coinductive cycles discharged as success",
			},
			func() float64 {
				return float64(stats.CyclesDischarged.Load())
			},
		),
		flounders: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "entail_flounders_total",
				Help: "tables that hit a depth, size or answer cap",
			},
			func() float64 {
				return float64(stats.Flounders.Load())
			},
		),
	}
	m.registry = prometheus.NewPedanticRegistry()

	m.registry.MustRegister(m.tablesCreated)
	m.registry.MustRegister(m.strandsCreated)
	m.registry.MustRegister(m.answersRecorded)
	m.registry.MustRegister(m.cyclesDischarged)
	m.registry.MustRegister(m.flounders)
	return m
}

// Registry returns the registry holding the forest collectors, for
// mounting on an HTTP handler or pushing to a gateway.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
