package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCallMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCallMetrics(reg)

	m.ObserveCall("outbound", "completed")
	m.ObserveCall("outbound", "completed")
	m.ObserveTurn("ok")
	m.ObserveGatewayError("llm")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	if got := testutil.ToFloat64(m.callsTotal.WithLabelValues("outbound", "completed")); got != 2 {
		t.Errorf("calls total: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.turnsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("turns total: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.gatewayErrors.WithLabelValues("llm")); got != 1 {
		t.Errorf("gateway errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("active sessions: got %v, want 1", got)
	}
}

func TestCallMetricsNilSafe(t *testing.T) {
	var m *CallMetrics
	m.ObserveCall("inbound", "failed")
	m.ObserveTurn("error")
	m.ObserveTurnLatency("llm", 0.5)
	m.ObserveGatewayError("tts")
	m.SessionStarted()
	m.SessionEnded()
}
