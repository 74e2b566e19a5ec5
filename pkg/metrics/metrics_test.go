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

func TestSetActiveTransportExclusivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, []string{"serial", "wireless"})

	m.SetActiveTransport("wireless")

	if v := gaugeValue(t, m.activeTransport.WithLabelValues("wireless")); v != 1 {
		t.Errorf("wireless gauge = %v, want 1", v)
	}
	if v := gaugeValue(t, m.activeTransport.WithLabelValues("serial")); v != 0 {
		t.Errorf("serial gauge = %v, want 0", v)
	}

	m.SetActiveTransport("serial")
	if v := gaugeValue(t, m.activeTransport.WithLabelValues("serial")); v != 1 {
		t.Errorf("serial gauge = %v, want 1", v)
	}
	if v := gaugeValue(t, m.activeTransport.WithLabelValues("wireless")); v != 0 {
		t.Errorf("wireless gauge = %v, want 0", v)
	}
}

func TestOutboundQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, nil)

	m.SetOutboundQueueDepth(7)
	if v := gaugeValue(t, m.outboundQueueDepth); v != 7 {
		t.Errorf("queue depth = %v, want 7", v)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, nil)

	m.IncRetransmits()
	m.IncRetransmits()
	m.IncGapJumps()

	var rt dto.Metric
	if err := m.retransmits.Write(&rt); err != nil {
		t.Fatalf("write retransmits: %v", err)
	}
	if got := rt.GetCounter().GetValue(); got != 2 {
		t.Errorf("retransmits = %v, want 2", got)
	}

	var gj dto.Metric
	if err := m.gapJumps.Write(&gj); err != nil {
		t.Fatalf("write gapJumps: %v", err)
	}
	if got := gj.GetCounter().GetValue(); got != 1 {
		t.Errorf("gapJumps = %v, want 1", got)
	}
}
