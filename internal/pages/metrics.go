package pages

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsStore is the store label the pages collection reports under.
const metricsStore = "pages"

// Metrics holds the store's Prometheus metrics. All fields are optional;
// a nil Metrics (or nil field) disables collection.
type Metrics struct {
	// Operations counts store calls. Labels: store, operation, status
	// ("ok"|"error").
	Operations *prometheus.CounterVec
	// Duration observes store call latency. Labels: store, operation.
	Duration *prometheus.HistogramVec
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if m.Operations != nil {
		m.Operations.WithLabelValues(metricsStore, operation, status).Inc()
	}
	if m.Duration != nil {
		m.Duration.WithLabelValues(metricsStore, operation).Observe(time.Since(start).Seconds())
	}
}
