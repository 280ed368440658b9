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
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	Turns               *prometheus.CounterVec
	Escalations         prometheus.Counter
	FilterActions       *prometheus.CounterVec
	FilterViolations    *prometheus.CounterVec
	Degraded            *prometheus.CounterVec
	GenerationErrors    *prometheus.CounterVec
	ExperimentAssigned  *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	TurnLatency         prometheus.Histogram
	RiskModelFallbacks  *prometheus.CounterVec
	MemoryBackendActive *prometheus.GaugeVec

	gatherer prometheus.Gatherer
	stages   *stageWindow
}

// NewMetrics registers every instrument on reg. A nil reg uses a fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active coaching sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by assessed risk level and reply intent.",
		}, []string{"risk_level", "intent"}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Sessions automatically paused on high risk.",
		}),
		FilterActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_actions_total",
			Help:      "Response filter actions by type.",
		}, []string{"action"}),
		FilterViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_violations_total",
			Help:      "Hard-blocked generated replies by boundary category.",
		}, []string{"category"}),
		Degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Soft failures absorbed by the turn pipeline.",
		}, []string{"component", "reason"}),
		GenerationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Completion failures by provider.",
		}, []string{"provider"}),
		ExperimentAssigned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiment_assignments_total",
			Help:      "Turns served under an experiment variant.",
		}, []string{"variant"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		RiskModelFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_model_fallbacks_total",
			Help:      "Risk model strategies skipped by reason.",
		}, []string{"model", "reason"}),
		MemoryBackendActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_backend_info",
			Help:      "Memory backend in use (1) by name.",
		}, []string{"backend"}),
		gatherer: reg,
		stages:   newStageWindow(256),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records a pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.observe(stage, float64(d.Microseconds())/1000)
}

// CountDegraded tallies a fallback reason in the latency window report.
func (m *Metrics) CountDegraded(reason string) {
	if m == nil {
		return
	}
	m.stages.countDegraded(reason)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	return m.stages.snapshot()
}

// Handler serves the registry the metrics were created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
