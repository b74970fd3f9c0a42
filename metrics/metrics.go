// Package metrics exposes the prometheus instruments this module's
// transports report: queue depth, flush activity, drop counts, batch
// size distribution, and compression ratio. Scaled down from the
// teacher's full metrics catalog to the handful of instruments the
// transport/batching/compression components in this module actually
// produce.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the number of messages currently buffered in a
	// ThreadedTransport or BatchedTransport worker's channel, labeled by
	// the transport's configured name.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logtransport_queue_depth",
			Help: "Current number of messages queued for a transport worker",
		},
		[]string{"transport"},
	)

	// FlushesTotal counts flush operations performed against a wrapped
	// sink, labeled by what triggered the flush.
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logtransport_flushes_total",
			Help: "Total number of batch flushes performed",
		},
		[]string{"transport", "trigger"},
	)

	// RecordsDroppedTotal counts records discarded without ever reaching
	// a sink — a full non-blocking queue, or a Close with
	// FlushOnDrop=false.
	RecordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logtransport_records_dropped_total",
			Help: "Total number of records dropped without being delivered to a sink",
		},
		[]string{"transport", "reason"},
	)

	// BatchSize observes the number of records included in each flush.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logtransport_batch_size",
			Help:    "Number of records included in each batch flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// CompressionRatio observes compressed_bytes/original_bytes for
	// contrib components that compress payloads before writing them.
	CompressionRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logtransport_compression_ratio",
			Help:    "Ratio of compressed size to original size",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"algorithm"},
	)

	// ErrorsTotal counts fallible-operation failures, labeled by
	// errs.Kind and the component that raised them.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logtransport_errors_total",
			Help: "Total number of errors reported by fallible operations",
		},
		[]string{"component", "kind"},
	)
)

// ObserveFlush records a completed flush of n records for transport,
// triggered by trigger ("size", "time", "explicit", "shutdown").
func ObserveFlush(transportName, trigger string, n int) {
	FlushesTotal.WithLabelValues(transportName, trigger).Inc()
	if n > 0 {
		BatchSize.Observe(float64(n))
	}
}

// ObserveQueueDepth records the current number of messages buffered in
// transport's worker channel.
func ObserveQueueDepth(transportName string, depth int) {
	QueueDepth.WithLabelValues(transportName).Set(float64(depth))
}

// ObserveDrop records n records dropped for transport for the given
// reason ("queue_full", "discarded_on_close").
func ObserveDrop(transportName, reason string, n int) {
	RecordsDroppedTotal.WithLabelValues(transportName, reason).Add(float64(n))
}

// ObserveError records a fallible-operation failure for component.
func ObserveError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// ObserveCompression records a compression ratio sample for algorithm.
func ObserveCompression(algorithm string, originalBytes, compressedBytes int) {
	if originalBytes == 0 {
		return
	}
	CompressionRatio.WithLabelValues(algorithm).Observe(float64(compressedBytes) / float64(originalBytes))
}
