package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "test-job"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "payrecon_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payrecon_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "payrecon_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestDomainMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	recon := NewReconciliationMetrics(reg)
	polling := NewPollingMetrics(reg)
	gateway := NewGatewayMetrics(reg)

	recon.IncEvent("applied", "pull")
	recon.IncEvent("duplicate", "push")
	recon.IncEvent("duplicate", "push")
	recon.IncReview("amount_mismatch")
	polling.IncAttempt("unreachable")
	polling.IncFinished("expired")
	polling.SetActive(3)
	gateway.Observe("query_status", "ok", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "payrecon_reconciliation_events_total", "outcome", "duplicate"); err != nil || got != 2 {
		t.Fatalf("expected duplicate=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "payrecon_review_flags_total", "reason", "amount_mismatch"); err != nil || got != 1 {
		t.Fatalf("expected review=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "payrecon_polling_tasks_finished_total", "state", "expired"); err != nil || got != 1 {
		t.Fatalf("expected expired=1, got %f err=%v", got, err)
	}
	if mf := findMetricFamily(mfs, "payrecon_polling_tasks_active"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected active gauge 3")
	}
	if got, err := fetchHistogramSum(mfs, "payrecon_gateway_request_duration_seconds", "operation", "query_status"); err != nil || got <= 0 {
		t.Fatalf("expected gateway latency sum > 0, got %f err=%v", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var recon *ReconciliationMetrics
	recon.IncEvent("applied", "push")
	NewPollingMetrics(nil).SetActive(1)
	NewGatewayMetrics(nil).Observe("initiate", "ok", time.Second)
	NewCronJobMetrics(nil).IncSuccess("job")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
