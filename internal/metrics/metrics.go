package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_orders_created_total",
		Help: "Orders created, by kind (paid or free).",
	}, []string{"kind"})

	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_order_rejections_total",
		Help: "Order creations refused, by error kind.",
	}, []string{"kind"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_order_transitions_total",
		Help: "Order state changes, by target state.",
	}, []string{"to"})

	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_sweeper_expired_total",
		Help: "Orders expired by the sweeper.",
	})

	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_sweeper_failures_total",
		Help: "Orders the sweeper failed to expire.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticketing_sweeper_run_seconds",
		Help:    "Duration of sweeper runs.",
		Buckets: prometheus.DefBuckets,
	})

	RefundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_refund_transitions_total",
		Help: "Refund state changes, by target state.",
	}, []string{"to"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketing_gateway_request_seconds",
		Help:    "Payment gateway call latency, by outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})
)
