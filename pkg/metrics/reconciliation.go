package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics counts how status events were resolved.
type ReconciliationMetrics struct {
	events  *prometheus.CounterVec
	reviews *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "reconciliation_events_total",
		Help:      "Status events handled by the reconciliation core, by outcome and source channel.",
	}, []string{"outcome", "channel"})
	reviews := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "review_flags_total",
		Help:      "Payments flagged for manual review or escalated, by reason.",
	}, []string{"reason"})
	reg.MustRegister(events, reviews)
	return &ReconciliationMetrics{events: events, reviews: reviews}
}

func (m *ReconciliationMetrics) IncEvent(outcome, channel string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(outcome), normalizeLabel(channel)).Inc()
}

func (m *ReconciliationMetrics) IncReview(reason string) {
	if m == nil || m.reviews == nil {
		return
	}
	m.reviews.WithLabelValues(normalizeLabel(reason)).Inc()
}
