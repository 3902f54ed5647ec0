package docstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Total document store operations by type and status.",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskd",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of document store operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	lockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskd",
			Subsystem: "docstore",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a collection write lock.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2.5, 5},
		},
	)

	collectionDocuments = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskd",
			Subsystem: "docstore",
			Name:      "collection_documents",
			Help:      "Number of documents per collection as of the last write.",
		},
		[]string{"collection"},
	)
)

// recordOperation records one completed store operation.
func recordOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// recordLockWait records how long a writer waited for a collection lock.
func recordLockWait(start time.Time) {
	lockWaitDuration.Observe(time.Since(start).Seconds())
}

// recordCollectionSize records the document count after a successful write.
func recordCollectionSize(collection string, count int) {
	collectionDocuments.WithLabelValues(collection).Set(float64(count))
}
