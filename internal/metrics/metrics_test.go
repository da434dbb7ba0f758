package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBlockDone(10)
		m.RecordWritten()
		m.ObserveLockWait(time.Millisecond)
		m.RecordFailure("store")
		m.RecordRead(true)
	})
	assert.Nil(t, New(nil))
}

func TestMetricsCounters(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RecordBlockDone(50)
	m.RecordBlockDone(50)
	m.RecordWritten()
	m.RecordFailure("transform")
	m.RecordRead(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blocksDone))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.samplesDone))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("transform")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("error")))
}
