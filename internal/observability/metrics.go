package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	MemoryOps         *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	SynthesisLatency  prometheus.Histogram

	latency *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed chat turns by outcome.",
		}, []string{"outcome"}),
		MemoryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory store operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Latency of completion service calls in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of text-to-speech synthesis in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		latency: NewLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.latency.ObserveOutcome(outcome)
}

func (m *Metrics) ObserveMemoryOp(op, outcome string) {
	if m == nil {
		return
	}
	m.MemoryOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageCompletion, d)
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageSynthesis, d)
}

// ObserveStage records a pipeline stage that has no dedicated histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, d)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.Snapshot()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
