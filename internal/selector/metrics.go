package selector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's Prometheus metrics. All fields are
// optional; a nil Metrics (or nil field) disables collection.
type Metrics struct {
	// Dispatches counts settled dispatches. Labels: result
	// ("done"|"reject"|"requeue").
	Dispatches *prometheus.CounterVec
	// InFlight gauges crawls currently running. Labels: mode
	// ("stream"|"amqp").
	InFlight *prometheus.GaugeVec
	// Duration observes the dispatch round trip. Labels: result.
	Duration *prometheus.HistogramVec
}

func (m *Metrics) incInFlight(mode string) {
	if m == nil || m.InFlight == nil {
		return
	}
	m.InFlight.WithLabelValues(mode).Inc()
}

func (m *Metrics) decInFlight(mode string) {
	if m == nil || m.InFlight == nil {
		return
	}
	m.InFlight.WithLabelValues(mode).Dec()
}

func (m *Metrics) observeDispatch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if m.Dispatches != nil {
		m.Dispatches.WithLabelValues(result).Inc()
	}
	if m.Duration != nil {
		m.Duration.WithLabelValues(result).Observe(elapsed.Seconds())
	}
}
