// Package metrics wraps the Prometheus collectors exposed by the broker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	published    *prometheus.CounterVec
	publishDedup *prometheus.CounterVec
	received     *prometheus.CounterVec
	redriven     *prometheus.CounterVec
	redriveDedup *prometheus.CounterVec
	swept        prometheus.Counter
}

// New creates the collectors and registers them together with the default
// Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqs_messages_published_total",
			Help: "Messages accepted into a queue.",
		}, []string{"queue"}),
		publishDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqs_publishes_deduplicated_total",
			Help: "Publishes dropped because an identical message was already queued.",
		}, []string{"queue"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqs_messages_received_total",
			Help: "Messages delivered to consumers.",
		}, []string{"queue"}),
		redriven: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqs_messages_redriven_total",
			Help: "Messages moved to a dead letter queue after exceeding max receives.",
		}, []string{"queue"}),
		redriveDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqs_redrives_deduplicated_total",
			Help: "Redriven messages dropped by the dead letter queue's deduplication.",
		}, []string{"queue"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqs_messages_swept_total",
			Help: "Messages deleted by the retention sweep.",
		}),
	}
	registry.MustRegister(m.published, m.publishDedup, m.received, m.redriven, m.redriveDedup, m.swept)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessagePublished counts an accepted publish.
func (m *Metrics) MessagePublished(queue string) {
	m.published.WithLabelValues(queue).Inc()
}

// PublishDeduplicated counts a publish dropped as a duplicate.
func (m *Metrics) PublishDeduplicated(queue string) {
	m.publishDedup.WithLabelValues(queue).Inc()
}

// MessageReceived counts a delivered message.
func (m *Metrics) MessageReceived(queue string) {
	m.received.WithLabelValues(queue).Inc()
}

// MessageRedriven counts a message moved to its dead letter queue.
func (m *Metrics) MessageRedriven(queue string) {
	m.redriven.WithLabelValues(queue).Inc()
}

// RedriveDeduplicated counts a redrive suppressed by dead letter queue
// deduplication.
func (m *Metrics) RedriveDeduplicated(queue string) {
	m.redriveDedup.WithLabelValues(queue).Inc()
}

// MessagesSwept counts messages removed by the retention sweep.
func (m *Metrics) MessagesSwept(n int64) {
	m.swept.Add(float64(n))
}
