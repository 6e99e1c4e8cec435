package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/histograms for voice call flows.
type CallMetrics struct {
	callsTotal     *prometheus.CounterVec
	turnsTotal     *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	gatewayErrors  *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Calls by direction and final status",
		}, []string{"direction", "status"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Subsystem: "calls",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voicebridge",
			Subsystem: "calls",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a full ASR-LLM-TTS turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Vendor gateway failures",
		}, []string{"gateway"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicebridge",
			Subsystem: "calls",
			Name:      "active_sessions",
			Help:      "Live call sessions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.turnsTotal, m.turnLatency, m.gatewayErrors, m.activeSessions)
	return m
}

func (m *CallMetrics) ObserveCall(direction, status string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction, status).Inc()
}

func (m *CallMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *CallMetrics) ObserveTurnLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *CallMetrics) ObserveGatewayError(gateway string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(gateway).Inc()
}

func (m *CallMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *CallMetrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
