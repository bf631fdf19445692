package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics observes outbound gateway calls.
type GatewayMetrics struct {
	latency *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment gateway calls, by operation and result.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation", "result"})
	reg.MustRegister(latency)
	return &GatewayMetrics{latency: latency}
}

func (m *GatewayMetrics) Observe(operation, result string, d time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Observe(d.Seconds())
}
