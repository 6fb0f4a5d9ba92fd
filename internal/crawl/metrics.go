package crawl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus metrics. All fields are optional;
// a nil Metrics (or nil field) disables collection.
type Metrics struct {
	// Crawls counts finished crawls. Labels: outcome
	// ("crawled"|"skipped"|"failed"), reason (empty unless skipped).
	Crawls *prometheus.CounterVec
	// Duration observes the end-to-end crawl. Labels: outcome.
	Duration *prometheus.HistogramVec
	// Links counts fanned-out links. Labels: domain.
	Links *prometheus.CounterVec
}

func (m *Metrics) observeCrawl(outcome, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if m.Crawls != nil {
		m.Crawls.WithLabelValues(outcome, reason).Inc()
	}
	if m.Duration != nil {
		m.Duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) incLink(domain string) {
	if m == nil || m.Links == nil {
		return
	}
	m.Links.WithLabelValues(domain).Inc()
}
