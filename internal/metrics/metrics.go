package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outgoing_payment_transitions_total",
			Help: "State transitions applied to outgoing payments",
		},
		[]string{"from", "to"},
	)

	PaymentRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outgoing_payment_retries_total",
			Help: "Same-state retries scheduled for outgoing payments",
		},
		[]string{"state"},
	)

	QuoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outgoing_payment_quote_failures_total",
			Help: "Quote attempts that failed, by reason",
		},
		[]string{"reason"},
	)

	AdvanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outgoing_payment_advance_duration_seconds",
			Help:    "Duration of a single lifecycle advance, including persistence and ledger calls",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"outcome"},
	)

	WorkerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outgoing_payment_worker_claims_total",
			Help: "Lease claims made by payment workers",
		},
		[]string{"result"},
	)

	SettlementErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outgoing_payment_settlement_errors_total",
			Help: "Ledger commit or release calls that failed and were left for the sweep",
		},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafka_publish_errors_total",
			Help: "Total number of Kafka publish errors",
		},
	)
)
