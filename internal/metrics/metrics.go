package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment record status transitions",
		},
		[]string{"method", "from", "to"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_webhook_events_total",
			Help: "Card gateway webhook events by outcome",
		},
		[]string{"type", "outcome"},
	)

	ReferenceCollisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_allocation_collisions_total",
			Help: "Reference candidates rejected because they were already held",
		},
		[]string{"method"},
	)

	ReferenceExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_allocation_exhausted_total",
			Help: "Allocations that gave up after the attempt limit",
		},
		[]string{"method"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expiry_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep pass",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	UnreconciledCaptures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_captures_on_closed_payments_total",
			Help: "Gateway successes that arrived after the payment was already closed",
		},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_gateway_requests_total",
			Help: "Card gateway API calls by outcome",
		},
		[]string{"operation", "status"},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_failures_total",
			Help: "Lifecycle notifications that could not be delivered",
		},
		[]string{"sink"},
	)
)
