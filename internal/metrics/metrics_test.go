package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycleCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	require.Equal(t, float64(2), testutil.ToFloat64(m.SessionsStarted))
	require.Equal(t, float64(2), testutil.ToFloat64(m.SessionsActive))

	m.RecordSessionEnd(1.5)
	require.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))
}

func TestResultCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordInterimResult()
	m.RecordInterimResult()
	m.RecordFinalResult()

	require.Equal(t, float64(2), testutil.ToFloat64(m.ResultsInterim))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ResultsFinal))
}

func TestErrorCounterByKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordError("network_error")
	m.RecordError("network_error")
	m.RecordError("timeout")

	require.Equal(t, float64(2), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("network_error")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout")))
}

func TestAudioBytesCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAudioCaptured(3200)
	m.RecordAudioCaptured(3200)
	require.Equal(t, float64(6400), testutil.ToFloat64(m.AudioBytesCaptured))
}
