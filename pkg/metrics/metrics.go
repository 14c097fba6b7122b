// Package metrics exposes Prometheus counters for the screening client.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the screener.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal     *prometheus.CounterVec
	IntentsTotal    *prometheus.CounterVec
	PlaybacksTotal  *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	SessionsTotal   *prometheus.CounterVec
	QuestionNumber  prometheus.Gauge
	ObserversActive prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "screener"
	}

	registry := prometheus.NewRegistry()

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Protocol frames by direction and type",
		},
		[]string{"direction", "type"},
	)

	intentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Participant intents by outcome",
		},
		[]string{"intent", "outcome"},
	)

	playbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Agent speech playbacks by outcome",
		},
		[]string{"outcome"},
	)

	failuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recovered failures by kind",
		},
		[]string{"kind"},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Interview sessions by terminal outcome",
		},
		[]string{"outcome"},
	)

	questionNumber := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "question_number",
			Help:      "Current backend-confirmed question number",
		},
	)

	observersActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers_active",
			Help:      "Connected state stream observers",
		},
	)

	registry.MustRegister(
		framesTotal,
		intentsTotal,
		playbacksTotal,
		failuresTotal,
		sessionsTotal,
		questionNumber,
		observersActive,
	)

	return &Metrics{
		registry:        registry,
		FramesTotal:     framesTotal,
		IntentsTotal:    intentsTotal,
		PlaybacksTotal:  playbacksTotal,
		FailuresTotal:   failuresTotal,
		SessionsTotal:   sessionsTotal,
		QuestionNumber:  questionNumber,
		ObserversActive: observersActive,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FrameReceived counts an inbound frame.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues("in", frameType).Inc()
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues("out", frameType).Inc()
}

// Intent counts an accepted or rejected intent.
func (m *Metrics) Intent(name string, accepted bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.IntentsTotal.WithLabelValues(name, outcome).Inc()
}

// Playback counts a playback outcome: completed, interrupted, failed, stale.
func (m *Metrics) Playback(outcome string) {
	if m == nil {
		return
	}
	m.PlaybacksTotal.WithLabelValues(outcome).Inc()
}

// Failure counts a recovered failure.
func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// SessionEnded counts a terminal session outcome.
func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// SetQuestionNumber records the current question number.
func (m *Metrics) SetQuestionNumber(n int) {
	if m == nil {
		return
	}
	m.QuestionNumber.Set(float64(n))
}

// ObserverConnected tracks state stream observers.
func (m *Metrics) ObserverConnected(delta int) {
	if m == nil {
		return
	}
	m.ObserversActive.Add(float64(delta))
}
