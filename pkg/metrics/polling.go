package metrics

import "github.com/prometheus/client_golang/prometheus"

// PollingMetrics tracks the polling scheduler.
type PollingMetrics struct {
	attempts *prometheus.CounterVec
	finished *prometheus.CounterVec
	active   prometheus.Gauge
}

func NewPollingMetrics(reg prometheus.Registerer) *PollingMetrics {
	if reg == nil {
		return &PollingMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "polling_attempts_total",
		Help:      "Status queries issued by the polling scheduler, by result.",
	}, []string{"result"})
	finished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "polling_tasks_finished_total",
		Help:      "Polling tasks that stopped, by final state.",
	}, []string{"state"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "polling_tasks_active",
		Help:      "Polling tasks currently registered.",
	})
	reg.MustRegister(attempts, finished, active)
	return &PollingMetrics{attempts: attempts, finished: finished, active: active}
}

func (m *PollingMetrics) IncAttempt(result string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PollingMetrics) IncFinished(state string) {
	if m == nil || m.finished == nil {
		return
	}
	m.finished.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *PollingMetrics) SetActive(n int) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Set(float64(n))
}
