package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				if !hasLabel(m, k, v) {
					continue metric
				}
			}
			switch {
			case m.Counter != nil:
				return m.Counter.GetValue()
			case m.Gauge != nil:
				return m.Gauge.GetValue()
			case m.Histogram != nil:
				return float64(m.Histogram.GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func hasLabel(m *dto.Metric, key, value string) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == key && l.GetValue() == value {
			return true
		}
	}
	return false
}

func TestPrometheusSinkRecordsEvaluations(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.EvaluationCompleted("tier", 5*time.Millisecond)
	s.EvaluationCompleted("tier", 7*time.Millisecond)
	s.EvaluationCompleted("rate_limited", time.Millisecond)

	if got := gatherValue(t, reg, "ltvd_engine_evaluations_total", map[string]string{"outcome": "tier"}); got != 2 {
		t.Errorf("tier evaluations = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "ltvd_engine_evaluations_total", map[string]string{"outcome": "rate_limited"}); got != 1 {
		t.Errorf("rate_limited evaluations = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "ltvd_engine_evaluation_duration_seconds", nil); got != 3 {
		t.Errorf("duration samples = %v, want 3", got)
	}
}

func TestPrometheusSinkRecordsCacheState(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.LifetimeCacheHit()
	s.LifetimeCacheHit()
	s.LifetimeCacheMiss()
	s.LifetimeCacheSize(17)

	if got := gatherValue(t, reg, "ltvd_lifetime_cache_hits_total", nil); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "ltvd_lifetime_cache_misses_total", nil); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "ltvd_lifetime_cache_entries", nil); got != 17 {
		t.Errorf("entries = %v, want 17", got)
	}
}

func TestPrometheusSinkRecordsBusState(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.BufferCapacitySet(100)
	s.BufferSizeUpdate(25)
	s.BufferSaturationUpdate(0.25)
	s.EmitError()
	s.EmitError()

	if got := gatherValue(t, reg, "ltvd_eventbus_buffer_capacity", nil); got != 100 {
		t.Errorf("capacity = %v, want 100", got)
	}
	if got := gatherValue(t, reg, "ltvd_eventbus_buffer_size", nil); got != 25 {
		t.Errorf("size = %v, want 25", got)
	}
	if got := gatherValue(t, reg, "ltvd_eventbus_buffer_saturation", nil); got != 0.25 {
		t.Errorf("saturation = %v, want 0.25", got)
	}
	if got := gatherValue(t, reg, "ltvd_eventbus_emit_errors_total", nil); got != 2 {
		t.Errorf("emit errors = %v, want 2", got)
	}
}

func TestPrometheusSinkDoubleRegistrationIsNonFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	// Second sink on the same registry collides on every name; construction
	// must still succeed and recording must not panic.
	s := NewPrometheusSink(reg)
	s.EvaluationCompleted("tier", time.Millisecond)
	s.MonitorEvaluation(MonitorOutcomeApplied)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   string
	}{
		{"connection error", 0, errors.New("dial tcp: refused"), StatusClassConnectionError},
		{"rate limited", 429, nil, StatusClassRateLimited},
		{"server error", 503, nil, StatusClass5xx},
		{"client error", 400, nil, StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.status, tt.err); got != tt.want {
				t.Errorf("ClassifyStatus(%d, %v) = %q, want %q", tt.status, tt.err, got, tt.want)
			}
		})
	}
}

func TestNoopSinkIsSafe(t *testing.T) {
	var s Sink = NewNoopSink()
	s.EvaluationCompleted("tier", time.Second)
	s.LifetimeCacheHit()
	s.LifetimeCacheMiss()
	s.LifetimeCacheSize(3)
	s.MonitorEvaluation(MonitorOutcomeRemoved)
	s.MonitorRetryAttempt(StatusClassRateLimited)
	s.BufferSizeUpdate(1)
	s.BufferCapacitySet(10)
	s.BufferSaturationUpdate(0.1)
	s.EmitError()
}
