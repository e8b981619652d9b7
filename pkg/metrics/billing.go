package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeDisabled  = "disabled"
	OutcomeRejected  = "rejected"
	OutcomePermanent = "permanent_failure"
	OutcomeTransient = "transient_failure"
)

// BillingMetrics records webhook processing and rate limit decisions. A nil
// *BillingMetrics is a valid no-op recorder.
type BillingMetrics struct {
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	productSource   *prometheus.CounterVec
	rateLimit       *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})
	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Time spent handling webhook deliveries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	productSource := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "product_name_source_total",
		Help: "Which fallback tier supplied the recorded product name.",
	}, []string{"provider", "source"})
	rateLimit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Rate limiter decisions by action.",
	}, []string{"action", "decision"})
	reg.MustRegister(webhookEvents, webhookDuration, productSource, rateLimit)
	return &BillingMetrics{
		webhookEvents:   webhookEvents,
		webhookDuration: webhookDuration,
		productSource:   productSource,
		rateLimit:       rateLimit,
	}
}

// ObserveWebhook counts a delivery outcome and its handling time.
func (m *BillingMetrics) ObserveWebhook(provider, outcome string, duration time.Duration) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	provider = normalizeLabel(provider)
	m.webhookEvents.WithLabelValues(provider, normalizeLabel(outcome)).Inc()
	m.webhookDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncProductNameSource counts the product name fallback tier used.
func (m *BillingMetrics) IncProductNameSource(provider, source string) {
	if m == nil || m.productSource == nil {
		return
	}
	m.productSource.WithLabelValues(normalizeLabel(provider), normalizeLabel(source)).Inc()
}

// IncRateLimit counts a limiter decision ("allowed", "denied" or "skipped").
func (m *BillingMetrics) IncRateLimit(action, decision string) {
	if m == nil || m.rateLimit == nil {
		return
	}
	m.rateLimit.WithLabelValues(normalizeLabel(action), normalizeLabel(decision)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
