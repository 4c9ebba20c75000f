package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("mail:send").End(nil))
	boom := errors.New("smtp down")
	require.ErrorIs(t, m.Track("mail:send").End(boom), boom)

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("mail:send", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("mail:send", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("mail:send")))
}

func TestDroppedCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Dropped("mail:send", "decode")
	m.Dropped("mail:send", "decode")
	require.Equal(t, float64(2), testutil.ToFloat64(m.dropped.WithLabelValues("mail:send", "decode")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Dropped("mail:send", "decode")
	require.NoError(t, m.Track("mail:send").End(nil))
}
