package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(outboxMessagesTotal, outboxPending) }

var (
	// result: published|retry|dead
	outboxMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Outbox relay delivery outcomes.",
		},
		[]string{"result"},
	)

	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_batch_size",
			Help: "Number of messages claimed in the last relay batch.",
		},
	)
)

func IncOutbox(result string) {
	outboxMessagesTotal.WithLabelValues(norm(result)).Inc()
}

func SetOutboxBatch(n int) {
	outboxPending.Set(float64(n))
}
