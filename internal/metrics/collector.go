// Package zkmetrics adapts the session engine's MetricsReporter seam to
// Prometheus counters and a histogram.
package zkmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "zkcore"
	subsystem = "session"
)

// Collector implements zk.MetricsReporter against a set of Prometheus
// metrics registered on construction. Every method is safe for
// concurrent use, matching the Prometheus client library's own
// contract.
type Collector struct {
	// XIDsIssued counts every request XID allocated, a proxy for total
	// request volume across reconnects.
	XIDsIssued prometheus.Counter

	// Reconnects counts every time the session drops its connection and
	// re-dials, whatever the cause (idle timeout, RST, EOF).
	Reconnects prometheus.Counter

	// WatchesFired counts watcher callbacks delivered, labeled by the
	// triggering event type (NodeCreated, NodeDeleted, ...).
	WatchesFired *prometheus.CounterVec

	// PingRTTHist observes round-trip latency for PING replies, the
	// cheapest continuous signal of ensemble health a session has.
	PingRTTHist prometheus.Histogram
}

// NewCollector creates a Collector with all session metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.XIDsIssued,
		c.Reconnects,
		c.WatchesFired,
		c.PingRTTHist,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		XIDsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "xids_issued_total",
			Help:      "Total request XIDs allocated by the session.",
		}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Total times the session reconnected after losing its connection.",
		}),

		WatchesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watches_fired_total",
			Help:      "Total watcher callbacks delivered, labeled by event type.",
		}, []string{"event_type"}),

		PingRTTHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ping_rtt_seconds",
			Help:      "Round-trip latency observed on PING replies.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
	}
}

// XIDIssued implements zk.MetricsReporter.
func (c *Collector) XIDIssued() {
	c.XIDsIssued.Inc()
}

// Reconnected implements zk.MetricsReporter.
func (c *Collector) Reconnected() {
	c.Reconnects.Inc()
}

// WatchFired implements zk.MetricsReporter.
func (c *Collector) WatchFired(kind string) {
	c.WatchesFired.WithLabelValues(kind).Inc()
}

// PingRTT implements zk.MetricsReporter.
func (c *Collector) PingRTT(d time.Duration) {
	c.PingRTTHist.Observe(d.Seconds())
}
