package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the reconciliation engine. All metrics are
// process-local; each instance reports its own view.
var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_received_total",
		Help: "Inbound webhooks accepted at the HTTP surface.",
	}, []string{"provider", "endpoint"})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_rejected_total",
		Help: "Inbound webhooks rejected before enqueue.",
	}, []string{"provider", "reason"})

	IntakeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_intake_fallback_total",
		Help: "Enqueues that fell back to the durable database tier.",
	})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_events_processed_total",
		Help: "Webhook events processed by workers, by result.",
	}, []string{"provider", "result"})

	DepositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_deposits_credited_total",
		Help: "Deposits credited to the wallet ledger.",
	}, []string{"provider", "currency"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paygate_circuit_breaker_state",
		Help: "Circuit breaker state per category (0=closed, 1=half-open, 2=open).",
	}, []string{"category"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_circuit_breaker_rejections_total",
		Help: "Calls rejected fast because the breaker was open.",
	}, []string{"category"})

	FailoverAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_provider_failover_total",
		Help: "Requests that failed over from the primary payment provider.",
	}, []string{"from", "to"})
)
