package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSetFor("test-queue", reg)

	s.IncPut()
	s.IncPut()
	s.IncGet()
	require.Equal(t, 2.0, counterValue(t, s.putCount))
	require.Equal(t, 1.0, counterValue(t, s.getCount))

	s.SetQueueSize(7)
	s.SetJournalBytes(4096)
	s.SetOpenReads(3)
	require.Equal(t, 7.0, gaugeValue(t, s.queueSize))
	require.Equal(t, 4096.0, gaugeValue(t, s.journalBytes))
	require.Equal(t, 3.0, gaugeValue(t, s.openReads))
}

func TestHistogramsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSetFor("test-queue", reg)

	s.ObservePutDurability(5 * time.Millisecond)
	s.ObserveGetWait(10 * time.Millisecond)

	m := &dto.Metric{}
	require.NoError(t, s.putDurability.Write(m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestDistinctQueuesDoNotCollide(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewSetFor("a", reg)
	b := NewSetFor("b", reg)

	a.IncPut()
	b.IncPut()
	b.IncPut()

	require.Equal(t, 1.0, counterValue(t, a.putCount))
	require.Equal(t, 2.0, counterValue(t, b.putCount))
}
