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
	PhaseTransitions  *prometheus.CounterVec
	ExchangeLatency   prometheus.Histogram
	ExchangeFallbacks *prometheus.CounterVec
	SynthesisLatency  prometheus.Histogram
	FeedbackScores    *prometheus.HistogramVec
	Teardowns         *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active training sessions.",
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
			Help:      "Remote collaborator errors by provider and code.",
		}, []string{"provider", "code"}),
		PhaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Session controller phase transitions.",
		}, []string{"from", "to"}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_latency_ms",
			Help:      "Latency of simulated customer replies in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		ExchangeFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_fallbacks_total",
			Help:      "Canned fallback replies served by scenario.",
		}, []string{"scenario"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of speech synthesis requests in milliseconds.",
			Buckets:   []float64{100, 200, 400, 700, 1000, 2000, 4000},
		}),
		FeedbackScores: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feedback_score",
			Help:      "Session scores returned by the scoring collaborator.",
			Buckets:   []float64{20, 40, 60, 70, 80, 90, 100},
		}, []string{"scenario"}),
		Teardowns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Session teardown notifications by trigger.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ObserveExchange(d time.Duration, scenarioID string, fallback bool) {
	if m == nil {
		return
	}
	m.ExchangeLatency.Observe(float64(d.Milliseconds()))
	if fallback {
		m.ExchangeFallbacks.WithLabelValues(scenarioID).Inc()
	}
}

func (m *Metrics) ObserveSynthesis(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObservePhase(from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveTeardown(reason string) {
	if m == nil {
		return
	}
	m.Teardowns.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFeedbackScore(scenarioID string, score int) {
	if m == nil {
		return
	}
	m.FeedbackScores.WithLabelValues(scenarioID).Observe(float64(score))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}
