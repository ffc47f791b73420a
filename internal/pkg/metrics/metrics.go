// Package metrics exposes Prometheus collectors for payments and webhooks.
package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	providerCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "melodex_provider_call_seconds",
			Help:    "Latency of outbound payment provider calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op", "success"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melodex_provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		},
		[]string{"provider"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_webhook_events_total",
			Help: "Inbound webhook events by provider, type and outcome.",
		},
		[]string{"provider", "type", "outcome"},
	)

	saleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_sale_transitions_total",
			Help: "Sale status changes by product line and target status.",
		},
		[]string{"line", "status"},
	)

	commissionMinorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_commission_minor_total",
			Help: "Platform commission of completed sales in minor units.",
		},
		[]string{"line", "currency"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			providerCallSeconds,
			breakerState,
			webhookEventsTotal,
			saleTransitionsTotal,
			commissionMinorTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func ObserveProviderCall(provider, op string, took time.Duration, err error) {
	providerCallSeconds.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(err == nil)).
		Observe(took.Seconds())
}

func SetBreakerState(provider string, state int) {
	breakerState.WithLabelValues(norm(provider)).Set(float64(state))
}

// IncWebhookEvent counts one delivery. Outcome is one of processed,
// duplicate, invalid_signature or failed.
func IncWebhookEvent(provider, eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(provider), norm(eventType), norm(outcome)).Inc()
}

func IncSaleTransition(line, status string) {
	saleTransitionsTotal.WithLabelValues(norm(line), norm(status)).Inc()
}

func AddCommission(line, currency string, minor int64) {
	commissionMinorTotal.WithLabelValues(norm(line), norm(currency)).Add(float64(minor))
}
