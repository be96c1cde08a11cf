package zk

import "time"

// MetricsReporter receives point-in-time counters from a running
// Session. A nil MetricsReporter passed to WithMetrics is replaced by a
// no-op implementation, so the hot path never needs a nil check.
type MetricsReporter interface {
	XIDIssued()
	Reconnected()
	WatchFired(kind string)
	PingRTT(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) XIDIssued()             {}
func (noopMetrics) Reconnected()           {}
func (noopMetrics) WatchFired(string)      {}
func (noopMetrics) PingRTT(time.Duration)  {}
