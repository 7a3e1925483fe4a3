package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Tannybot/remindd/internal/domain"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_TickStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickStarted()

	val := getCounterValue(t, reg, "remindd_scheduler_ticks_total")
	if val != 2 {
		t.Errorf("ticks_total = %v, want 2", val)
	}
}

func TestPrometheusSink_TickCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	// No error
	sink.TickCompleted(100*time.Millisecond, 5, nil)
	errCount := getCounterValue(t, reg, "remindd_scheduler_tick_errors_total")
	if errCount != 0 {
		t.Errorf("tick_errors_total = %v after success, want 0", errCount)
	}
	emitted := getCounterValue(t, reg, "remindd_scheduler_jobs_emitted_total")
	if emitted != 5 {
		t.Errorf("jobs_emitted_total = %v, want 5", emitted)
	}

	// With error
	sink.TickCompleted(100*time.Millisecond, 0, errors.New("db error"))
	errCount = getCounterValue(t, reg, "remindd_scheduler_tick_errors_total")
	if errCount != 1 {
		t.Errorf("tick_errors_total = %v after error, want 1", errCount)
	}
}

func TestPrometheusSink_PendingAndSuperseded(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PendingJobsUpdate(7)
	sink.PendingJobsUpdate(3)
	sink.JobsSuperseded(2)
	sink.JobsSuperseded(2)

	pending := getGaugeValue(t, reg, "remindd_scheduler_pending_jobs")
	if pending != 3 {
		t.Errorf("pending_jobs = %v, want 3", pending)
	}

	superseded := getCounterValue(t, reg, "remindd_scheduler_jobs_superseded_total")
	if superseded != 4 {
		t.Errorf("jobs_superseded_total = %v, want 4", superseded)
	}
}

func TestPrometheusSink_SendCompletedLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SendCompleted(domain.KindOneDayBefore, "sent", 100*time.Millisecond)
	sink.SendCompleted(domain.KindOneHourBefore, "failed", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "remindd_dispatcher_sends_total",
		map[string]string{"kind": "one_day_before", "outcome": "sent"})
	if val1 != 1 {
		t.Errorf("kind=one_day_before,outcome=sent = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "remindd_dispatcher_sends_total",
		map[string]string{"kind": "one_hour_before", "outcome": "failed"})
	if val2 != 1 {
		t.Errorf("kind=one_hour_before,outcome=failed = %v, want 1", val2)
	}
}

func TestPrometheusSink_FireCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.FireCompleted("fired")
	sink.FireCompleted("skipped")
	sink.FireCompleted("fired")

	firedVal := getCounterVecValue(t, reg, "remindd_dispatcher_fires_total",
		map[string]string{"outcome": "fired"})
	if firedVal != 2 {
		t.Errorf("outcome=fired = %v, want 2", firedVal)
	}

	skippedVal := getCounterVecValue(t, reg, "remindd_dispatcher_fires_total",
		map[string]string{"outcome": "skipped"})
	if skippedVal != 1 {
		t.Errorf("outcome=skipped = %v, want 1", skippedVal)
	}
}

func TestPrometheusSink_FiresInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.FiresInFlightIncr()
	sink.FiresInFlightIncr()
	sink.FiresInFlightDecr()

	val := getGaugeValue(t, reg, "remindd_dispatcher_fires_in_flight")
	if val != 1 {
		t.Errorf("fires_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSink_LeaderStatus(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	if val := getGaugeValue(t, reg, "remindd_leader_status"); val != 1 {
		t.Errorf("leader_status = %v, want 1", val)
	}

	sink.LeaderStatusChanged(false)
	if val := getGaugeValue(t, reg, "remindd_leader_status"); val != 0 {
		t.Errorf("leader_status = %v, want 0", val)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	// Second registration will fail for all metrics, but should not panic.
	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
