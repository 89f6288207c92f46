package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerObserveDurationRecordsToTaskDuration(t *testing.T) {
	before := histogramSampleCount(t, TaskDuration)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(TaskDuration)

	after := histogramSampleCount(t, TaskDuration)
	assert.Equal(t, before+1, after, "Run's defer timer.ObserveDuration(metrics.TaskDuration) should add one sample")
}

func TestTimerObserveDurationVecRecordsPerLabel(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDurationVec(SourceFetchDuration, "tar")

	m := &dto.Metric{}
	require.NoError(t, SourceFetchDuration.WithLabelValues("tar").(prometheus.Histogram).Write(m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleSum(), 0.005)
}

func TestTimerDurationIsMonotonic(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	d1 := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	d2 := timer.Duration()
	assert.Greater(t, d2, d1)
}

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, h.Write(m))
	return m.GetHistogram().GetSampleCount()
}
