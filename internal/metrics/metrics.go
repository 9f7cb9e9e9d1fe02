// Package metrics collects per-run counters and exports them in the
// node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gochangelog"

type Run struct {
	reg      *prometheus.Registry
	applied  prometheus.Counter
	failed   prometheus.Counter
	skipped  prometheus.Counter
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
}

func New() *Run {
	m := &Run{
		reg: prometheus.NewRegistry(),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "changesets_applied_total",
			Help: "Changesets applied and recorded.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "changesets_failed_total",
			Help: "Changesets whose transaction was rolled back.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "changesets_skipped_total",
			Help: "Changesets found already applied by another runner.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "changeset_duration_seconds",
			Help:    "Time spent applying one changeset.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	m.reg.MustRegister(m.applied, m.failed, m.skipped, m.duration, m.lastRun)
	return m
}

// Registry exposes the collectors, mainly for tests.
func (m *Run) Registry() *prometheus.Registry { return m.reg }

// Observe records the outcome of one changeset. stage follows the migrator
// progress stages; "start" is ignored.
func (m *Run) Observe(stage string, d time.Duration) {
	switch stage {
	case "success":
		m.applied.Inc()
		m.duration.Observe(d.Seconds())
	case "error":
		m.failed.Inc()
	case "skipped":
		m.skipped.Inc()
	}
}

// Finish stamps the end of the run.
func (m *Run) Finish(now time.Time) {
	m.lastRun.Set(float64(now.Unix()))
}

// WriteTextfile atomically writes all metrics to path.
func (m *Run) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
