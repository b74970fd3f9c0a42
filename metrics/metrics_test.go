package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// batchSizeSamples returns how many observations BatchSize has recorded.
func batchSizeSamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	if err := BatchSize.Write(&m); err != nil {
		t.Fatalf("write BatchSize: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserveFlushIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(FlushesTotal.WithLabelValues("test-transport", "size"))
	beforeSamples := batchSizeSamples(t)
	ObserveFlush("test-transport", "size", 5)
	after := testutil.ToFloat64(FlushesTotal.WithLabelValues("test-transport", "size"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, beforeSamples+1, batchSizeSamples(t))
}

func TestObserveFlushZeroRecordsSkipsHistogram(t *testing.T) {
	beforeCount := testutil.ToFloat64(FlushesTotal.WithLabelValues("empty-flush", "explicit"))
	beforeSamples := batchSizeSamples(t)
	ObserveFlush("empty-flush", "explicit", 0)
	afterCount := testutil.ToFloat64(FlushesTotal.WithLabelValues("empty-flush", "explicit"))
	assert.Equal(t, beforeCount+1, afterCount)
	assert.Equal(t, beforeSamples, batchSizeSamples(t))
}

func TestObserveDropIncrementsByCount(t *testing.T) {
	before := testutil.ToFloat64(RecordsDroppedTotal.WithLabelValues("test-transport", "queue_full"))
	ObserveDrop("test-transport", "queue_full", 3)
	after := testutil.ToFloat64(RecordsDroppedTotal.WithLabelValues("test-transport", "queue_full"))
	assert.Equal(t, before+3, after)
}

func TestObserveErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("batchedtransport", "transient_io"))
	ObserveError("batchedtransport", "transient_io")
	after := testutil.ToFloat64(ErrorsTotal.WithLabelValues("batchedtransport", "transient_io"))
	assert.Equal(t, before+1, after)
}

func TestObserveCompressionIgnoresZeroOriginalBytes(t *testing.T) {
	// Must not panic or divide by zero.
	ObserveCompression("gzip", 0, 0)
}
