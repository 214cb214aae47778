package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for channel webhooks and reply delivery.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound webhook messages by outcome",
		}, []string{"channel", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "webhook",
			Name:      "outbound_total",
			Help:      "Total replies delivered back to channels",
		}, []string{"channel", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook request handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(channel, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, status).Inc()
}

// RecordOutbound satisfies conversation.OutboundRecorder.
func (m *WebhookMetrics) RecordOutbound(channel, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *WebhookMetrics) ObserveLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(seconds)
}
