// ABOUTME: Prometheus metrics for completions and the update broadcaster
// ABOUTME: Registered on the default registry and served by the gateway

package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgpt_completions_total",
		Help: "Chat completion requests by result.",
	}, []string{"result"})

	completionTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgpt_completion_tokens_total",
		Help: "Tokens reported by the language model, by kind.",
	}, []string{"kind"})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldgpt_update_subscribers",
		Help: "Live character update subscriptions.",
	})

	droppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldgpt_updates_dropped_total",
		Help: "Character updates dropped for slow subscribers.",
	})
)
