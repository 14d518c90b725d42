package metricsx

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveLoadIncrementsCorrectCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLoad(time.Now(), nil, "")
	if got := counterValue(t, m.ModulesLoaded); got != 1 {
		t.Fatalf("ModulesLoaded = %v, want 1", got)
	}

	m.ObserveLoad(time.Now(), errors.New("boom"), "other")
	if got := counterVecValue(t, m.LoadErrors, "other"); got != 1 {
		t.Fatalf("LoadErrors{reason=other} = %v, want 1", got)
	}
	if got := counterValue(t, m.ModulesLoaded); got != 1 {
		t.Fatalf("ModulesLoaded should not increment on failure, got %v", got)
	}
}

func TestObserveCallIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCall("mod", "fn", time.Now(), nil, "")
	m.ObserveCall("mod", "fn", time.Now(), errors.New("boom"), "trap")

	if got := counterVecValue2(t, m.CallsTotal, "mod", "fn"); got != 2 {
		t.Fatalf("CallsTotal = %v, want 2", got)
	}
	if got := counterVecValue3(t, m.CallErrors, "mod", "fn", "trap"); got != 1 {
		t.Fatalf("CallErrors = %v, want 1", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, v *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := v.WithLabelValues(label).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue2(t *testing.T, v *prometheus.CounterVec, l1, l2 string) float64 {
	t.Helper()
	var m dto.Metric
	if err := v.WithLabelValues(l1, l2).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue3(t *testing.T, v *prometheus.CounterVec, l1, l2, l3 string) float64 {
	t.Helper()
	var m dto.Metric
	if err := v.WithLabelValues(l1, l2, l3).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
