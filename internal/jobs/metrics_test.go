package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("dashboard:warmup").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("dashboard:warmup").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dashboard:warmup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dashboard:warmup", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("dashboard:warmup")))
}

func TestAddFindings(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFindings("orphan", 2)
	m.AddFindings("orphan", 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("orphan")))

	var nilMetrics *Metrics
	nilMetrics.AddFindings("orphan", 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
