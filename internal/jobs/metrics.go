package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"handoverphotos/internal/queue"
)

// Metrics exposes pipeline depth and job durations to Prometheus.
type Metrics struct {
	depth    *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handover_jobs",
			Help: "Background jobs by state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handover_job_duration_seconds",
			Help:    "Time spent executing a background job.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handover_job_outcomes_total",
			Help: "Finished background jobs by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.depth, m.duration, m.outcomes)
	}
	return m
}

func (m *Metrics) setCounts(c Counts) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(string(queue.JobWaiting)).Set(float64(c.Waiting))
	m.depth.WithLabelValues(string(queue.JobActive)).Set(float64(c.Active))
	m.depth.WithLabelValues(string(queue.JobCompleted)).Set(float64(c.Completed))
	m.depth.WithLabelValues(string(queue.JobFailed)).Set(float64(c.Failed))
}

func (m *Metrics) observe(jobType string, outcome queue.JobState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	m.outcomes.WithLabelValues(jobType, string(outcome)).Inc()
}

// Depth returns the gauge for state, for tests and diagnostics.
func (m *Metrics) Depth(state queue.JobState) prometheus.Gauge {
	return m.depth.WithLabelValues(string(state))
}
