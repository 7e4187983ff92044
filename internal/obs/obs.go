// Package obs wires the engine's ambient logging and metrics: a
// logrus.Entry builder honoring config.Kernel.Trace, and the prometheus
// counters/histograms a deployment scrapes for transaction outcomes and
// timing.
package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// NewLogger returns the base logrus.Entry every kernel transaction
// derives its per-transaction fields from. trace enables debug-level
// APDU tracing; otherwise the logger stays at info level.
func NewLogger(trace bool) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if trace {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}

// Metrics holds the prometheus collectors a running engine exposes under
// /metrics via the admin/observability HTTP surface.
type Metrics struct {
	Outcomes          *prometheus.CounterVec
	TransactionLength prometheus.Histogram
	ODAFailures       *prometheus.CounterVec
	RevocationHits    prometheus.Counter
}

// NewMetrics constructs and registers a fresh Metrics set against reg. A
// nil reg registers against prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "l2engine",
			Name:      "transaction_outcomes_total",
			Help:      "Count of completed contactless transactions by terminal outcome.",
		}, []string{"outcome", "brand"}),
		TransactionLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "l2engine",
			Name:      "transaction_duration_seconds",
			Help:      "Wall-clock duration of a contactless transaction from card detection to terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		}),
		ODAFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "l2engine",
			Name:      "oda_failures_total",
			Help:      "Count of offline data authentication failures by mode (sda/dda/fdda/cda).",
		}, []string{"mode"}),
		RevocationHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "l2engine",
			Name:      "ca_key_revocation_hits_total",
			Help:      "Count of GENERATE AC/ODA attempts that hit a revoked CA public key.",
		}),
	}
	reg.MustRegister(m.Outcomes, m.TransactionLength, m.ODAFailures, m.RevocationHits)
	return m
}

// ObserveOutcome records a completed transaction's outcome and duration.
func (m *Metrics) ObserveOutcome(outcome, brand string, since time.Time) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome, brand).Inc()
	m.TransactionLength.Observe(time.Since(since).Seconds())
}
