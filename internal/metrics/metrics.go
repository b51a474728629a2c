// Package metrics exposes Prometheus collectors for file storage operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by method, route pattern and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration observes HTTP request latency by method and route pattern.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	// UploadsTotal counts single-file uploads by outcome (success, rejected, storage_error, ledger_error).
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "files",
			Name:      "uploads_total",
			Help:      "Total file uploads by outcome",
		},
		[]string{"status"},
	)

	// UploadBytesTotal sums the bytes of successfully recorded uploads.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "files",
			Name:      "upload_bytes_total",
			Help:      "Total bytes written to the storage backend",
		},
	)

	// DeletesTotal counts logical deletions labelled by the physical cleanup outcome.
	DeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "files",
			Name:      "deletes_total",
			Help:      "Total file deletions by physical cleanup outcome",
		},
		[]string{"physical"},
	)

	// StorageOperationsTotal counts backend calls by provider, operation and outcome.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total storage backend operations",
		},
		[]string{"provider", "operation", "status"},
	)

	// StorageDuration observes backend call latency by provider and operation.
	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "storage",
			Name:      "duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"provider", "operation"},
	)

	// InitAttemptsTotal counts initializer setup executions by key and outcome.
	InitAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "init",
			Name:      "attempts_total",
			Help:      "Idempotent initializer executions by key and outcome",
		},
		[]string{"key", "status"},
	)
)

// status maps an error to the outcome label.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRequest records an HTTP request.
func RecordRequest(method, route, code string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, code).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordUpload records the outcome of a single file upload.
func RecordUpload(outcome string, bytes int64) {
	UploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		UploadBytesTotal.Add(float64(bytes))
	}
}

// RecordDelete records a logical deletion and whether the physical cleanup succeeded.
func RecordDelete(physicalErr error) {
	DeletesTotal.WithLabelValues(status(physicalErr)).Inc()
}

// RecordStorageOperation records a backend call.
func RecordStorageOperation(provider, operation string, err error, durationSec float64) {
	StorageOperationsTotal.WithLabelValues(provider, operation, status(err)).Inc()
	StorageDuration.WithLabelValues(provider, operation).Observe(durationSec)
}

// RecordInitAttempt records one execution of an initializer setup procedure.
func RecordInitAttempt(key string, err error) {
	InitAttemptsTotal.WithLabelValues(key, status(err)).Inc()
}
