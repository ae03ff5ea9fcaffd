package migration

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts migrated records and rollbacks.
type Metrics struct {
	records   *prometheus.CounterVec
	rollbacks prometheus.Counter
	running   prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handover_migration_records_total",
			Help: "Legacy protocols processed by migration, by outcome.",
		}, []string{"outcome"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handover_migration_rollbacks_total",
			Help: "Migration batches rolled back.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "handover_migration_running",
			Help: "1 while a migration batch is running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.records, m.rollbacks, m.running)
	}
	return m
}

func (m *Metrics) record(outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

func (m *Metrics) rolledBack() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// Records returns the counter for outcome, for tests.
func (m *Metrics) Records(outcome string) prometheus.Counter {
	return m.records.WithLabelValues(outcome)
}
