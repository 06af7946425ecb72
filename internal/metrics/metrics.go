// Package metrics provides Prometheus instrumentation for the session
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "murmur"

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Transcript metrics
	ResultsInterim prometheus.Counter
	ResultsFinal   prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Audio metrics
	AudioBytesCaptured prometheus.Counter
}

// New creates all metrics registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recognition sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recognition sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ResultsInterim: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_interim_total",
			Help:      "Total number of interim recognition results received",
		}),
		ResultsFinal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_final_total",
			Help:      "Total number of final recognition results received",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of recognition errors by kind",
		}, []string{"kind"}),
		AudioBytesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes accepted from the capture device",
		}),
	}
}

// RecordSessionStart records a recognition session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a recognition session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordInterimResult records an interim transcript received.
func (m *Metrics) RecordInterimResult() {
	m.ResultsInterim.Inc()
}

// RecordFinalResult records a final transcript received.
func (m *Metrics) RecordFinalResult() {
	m.ResultsFinal.Inc()
}

// RecordError records a recognition error by taxonomy kind.
func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordAudioCaptured records audio bytes accepted from the device.
func (m *Metrics) RecordAudioCaptured(bytes int64) {
	m.AudioBytesCaptured.Add(float64(bytes))
}
