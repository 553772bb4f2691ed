package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollector_SetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetRegisteredEndpoints(3)
	c.SetActiveSessions(2)

	if got := gaugeValue(t, c.registeredEndpoints); got != 3 {
		t.Fatalf("registered_endpoints = %v, want 3", got)
	}
	if got := gaugeValue(t, c.activeSessions); got != 2 {
		t.Fatalf("active_sessions = %v, want 2", got)
	}
}

func TestCollector_RegistersBothGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	if !names["swap_registered_endpoints"] || !names["swap_active_sessions"] {
		t.Fatalf("expected both gauges registered, got %v", names)
	}
}
