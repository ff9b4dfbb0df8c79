package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	case out.Counter != nil:
		return out.Counter.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestCollectorOccupancy(t *testing.T) {
	c := NewCollector("occupancy", "lz4")
	c.SetOccupancy(3, 1, 4)

	assert.Equal(t, 3.0, value(t, StreamsAvailable.WithLabelValues("occupancy", "lz4")))
	assert.Equal(t, 1.0, value(t, StreamsIdle.WithLabelValues("occupancy", "lz4")))
	assert.Equal(t, 4.0, value(t, StreamsMax.WithLabelValues("occupancy", "lz4")))
}

func TestCollectorSharedSeries(t *testing.T) {
	a := NewCollector("shared", "lz4")
	b := NewCollector("shared", "lz4")
	a.SetOccupancy(1, 1, 4)
	b.SetOccupancy(3, 0, 4)
	b.SetOccupancy(2, 1, 2)
	assert.Equal(t, 2, SeriesOwners("shared", "lz4"))
	assert.Equal(t, 3.0, value(t, StreamsAvailable.WithLabelValues("shared", "lz4")))
	assert.Equal(t, 6.0, value(t, StreamsMax.WithLabelValues("shared", "lz4")))

	a.Forget()
	a.Forget()
	a.SetOccupancy(9, 9, 9)
	assert.Equal(t, 1, SeriesOwners("shared", "lz4"))
	assert.Equal(t, 2.0, value(t, StreamsAvailable.WithLabelValues("shared", "lz4")))
	assert.Equal(t, 1.0, value(t, StreamsIdle.WithLabelValues("shared", "lz4")))
	assert.Equal(t, 2.0, value(t, StreamsMax.WithLabelValues("shared", "lz4")))

	b.Forget()
	assert.Zero(t, SeriesOwners("shared", "lz4"))
	assert.False(t, StreamsAvailable.DeleteLabelValues("shared", "lz4"), "series removed with its last owner")
}

func TestStoreCollectorSharedSeries(t *testing.T) {
	a := NewStoreCollector("shared-store")
	b := NewStoreCollector("shared-store")
	a.Set(4096, 1000, 1024)
	b.Set(8192, 3000, 3072)
	assert.Equal(t, 4000.0, value(t, BlockStoreBytes.WithLabelValues("shared-store", "compressed")))

	a.Forget()
	assert.Equal(t, 8192.0, value(t, BlockStoreBytes.WithLabelValues("shared-store", "orig")))
	assert.Equal(t, 3072.0, value(t, BlockStoreBytes.WithLabelValues("shared-store", "stored")))

	b.Forget()
	assert.False(t, BlockStoreBytes.DeleteLabelValues("shared-store", "orig"))
}

func TestCollectorEvents(t *testing.T) {
	c := NewCollector("events", "zstd")
	c.StreamEvent(EventCreated)
	c.StreamEvents(EventDestroyed, 2)
	c.StreamEvents(EventShrunk, 0)

	assert.Equal(t, 1.0, value(t, StreamEvents.WithLabelValues("events", "zstd", EventCreated)))
	assert.Equal(t, 2.0, value(t, StreamEvents.WithLabelValues("events", "zstd", EventDestroyed)))
	assert.Equal(t, 0.0, value(t, StreamEvents.WithLabelValues("events", "zstd", EventShrunk)))
}

func TestCollectorOperation(t *testing.T) {
	c := NewCollector("ops", "snappy")
	c.Operation("compress", nil)
	c.Operation("compress", errors.New("boom"))
	c.Operation("compress", nil)

	assert.Equal(t, 2.0, value(t, Operations.WithLabelValues("ops", "snappy", "compress", "success")))
	assert.Equal(t, 1.0, value(t, Operations.WithLabelValues("ops", "snappy", "compress", "error")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetOccupancy(1, 1, 1)
		c.StreamEvent(EventCreated)
		c.ObserveWait(time.Millisecond)
		c.Operation("compress", nil)
		c.Forget()
	})
	assert.Equal(t, "", c.Name())
}

func TestLatencyTracker(t *testing.T) {
	l := NewLatencyTracker(4)
	for _, d := range []time.Duration{50, 10, 40, 30, 20} {
		l.Record(d)
	}

	assert.Equal(t, 4, l.Count())
	assert.Equal(t, time.Duration(10), l.GetPercentile(0))
	// 50 was evicted as the oldest value
	assert.Equal(t, time.Duration(40), l.GetPercentile(100))
	assert.Equal(t, time.Duration(30), l.GetPercentile(50))
	assert.Equal(t, time.Duration(0), NewLatencyTracker(1).GetPercentile(99))
}
