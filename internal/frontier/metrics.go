package frontier

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the frontier's Prometheus metrics. All fields are optional;
// a nil Metrics (or nil field) disables collection.
type Metrics struct {
	// Queues gauges the live frontier state. Labels: state ("queues"|"pending").
	Queues *prometheus.GaugeVec
	// Messages counts frontier traffic. Labels: operation
	// ("published"|"selected"|"delivered"|"requeued").
	Messages *prometheus.CounterVec
}

func (m *Metrics) incMessage(operation string) {
	if m == nil || m.Messages == nil {
		return
	}
	m.Messages.WithLabelValues(operation).Inc()
}

func (m *Metrics) addMessages(operation string, n int) {
	if m == nil || m.Messages == nil {
		return
	}
	m.Messages.WithLabelValues(operation).Add(float64(n))
}

func (m *Metrics) observeQueues(q *QueueSet) {
	if m == nil || m.Queues == nil {
		return
	}
	queues, pending := q.Stats()
	m.Queues.WithLabelValues("queues").Set(float64(queues))
	m.Queues.WithLabelValues("pending").Set(float64(pending))
}
