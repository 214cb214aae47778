package conversation

import "github.com/prometheus/client_golang/prometheus"

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "chatrelay",
		Subsystem: "conversation",
		Name:      "llm_latency_seconds",
		Help:      "Latency of LLM completions",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30, 60},
	},
	[]string{"provider", "status"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "conversation",
		Name:      "llm_tokens_total",
		Help:      "Tokens used by the LLM",
	},
	[]string{"provider", "type"}, // type: input, output, total
)

var repliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "conversation",
		Name:      "replies_total",
		Help:      "Handled messages by conversation mode and outcome",
	},
	[]string{"mode", "outcome"}, // outcome: ok, missing_field, unavailable, model_error, lock_error
)

var persistenceErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "conversation",
		Name:      "persistence_errors_total",
		Help:      "Session store failures that were tolerated",
	},
	[]string{"op"},
)

func init() {
	prometheus.MustRegister(llmLatency, llmTokensTotal, repliesTotal, persistenceErrorsTotal)
}

// RegisterMetrics registers conversation metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmTokensTotal, repliesTotal, persistenceErrorsTotal)
}
