package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mostro_messages_processed_total",
		Help: "Inbound protocol messages processed, by action and result.",
	}, []string{"action", "result"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mostro_order_transitions_total",
		Help: "Order state transitions, by resulting status.",
	}, []string{"status"})

	PaymentsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mostro_payments_total",
		Help: "Buyer invoice payment attempts, by result.",
	}, []string{"result"})

	OpenDisputes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mostro_open_disputes",
		Help: "Disputes currently initiated or in progress.",
	})
)
