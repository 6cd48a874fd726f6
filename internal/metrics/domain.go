package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CipherOps counts coprocessor operations by op (encrypt, decrypt) and
	// result (ok, denied, error).
	CipherOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diary",
			Subsystem: "fhe",
			Name:      "operations_total",
			Help:      "Coprocessor operations by type and result.",
		},
		[]string{"op", "result"},
	)

	// CipherDuration observes per-word encrypt and decrypt latency.
	CipherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diary",
			Subsystem: "fhe",
			Name:      "operation_duration_seconds",
			Help:      "Coprocessor operation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	// EntriesCreated counts entries appended to the ledger.
	EntriesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diary",
			Name:      "entries_created_total",
			Help:      "Diary entries appended.",
		},
	)

	// ChunksStored counts chunk handles appended to the ledger.
	ChunksStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diary",
			Name:      "chunks_stored_total",
			Help:      "Chunk handles appended across all entries.",
		},
	)

	// EventsDelivered counts plugin notifications by result.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diary",
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Event notifications sent to plugins by result.",
		},
		[]string{"event", "result"},
	)
)
