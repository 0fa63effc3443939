// Package metrics provides Prometheus metrics for the AegisFS engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Object store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegisfs_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisfs_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"operation", "status"},
	)

	// Chunk cache metrics
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_cache_hits_total",
			Help: "Total chunk cache hits",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_cache_misses_total",
			Help: "Total chunk cache misses",
		},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_cache_evictions_total",
			Help: "Total chunks evicted under cache pressure",
		},
	)

	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegisfs_cache_bytes",
			Help: "Current plaintext bytes held in the chunk cache",
		},
	)

	// Codec metrics
	chunksEncryptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_chunks_encrypted_total",
			Help: "Total chunks encrypted for upload",
		},
	)

	chunksDecryptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_chunks_decrypted_total",
			Help: "Total chunks decrypted on fetch",
		},
	)

	authFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_auth_failures_total",
			Help: "Total chunk authentication failures (tamper or corruption)",
		},
	)

	// Filesystem operation metrics
	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisfs_fs_operations_total",
			Help: "Total filesystem operations dispatched",
		},
		[]string{"operation", "status"},
	)

	bytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_bytes_read_total",
			Help: "Total plaintext bytes returned by read",
		},
	)

	bytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisfs_bytes_written_total",
			Help: "Total plaintext bytes accepted by write",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStoreOperation records an object store operation.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCacheHit records a chunk cache hit.
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records a chunk cache miss.
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheEviction records a chunk eviction.
func RecordCacheEviction() {
	cacheEvictionsTotal.Inc()
}

// SetCacheBytes sets the current cached byte total.
func SetCacheBytes(n int64) {
	cacheBytes.Set(float64(n))
}

// RecordEncrypt records a chunk encryption.
func RecordEncrypt() {
	chunksEncryptedTotal.Inc()
}

// RecordDecrypt records a chunk decryption.
func RecordDecrypt() {
	chunksDecryptedTotal.Inc()
}

// RecordAuthFailure records a chunk authentication failure.
func RecordAuthFailure() {
	authFailuresTotal.Inc()
}

// RecordFSOperation records a dispatched filesystem operation.
func RecordFSOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	fsOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBytesRead records plaintext bytes served to readers.
func RecordBytesRead(n int) {
	bytesReadTotal.Add(float64(n))
}

// RecordBytesWritten records plaintext bytes accepted from writers.
func RecordBytesWritten(n int) {
	bytesWrittenTotal.Add(float64(n))
}
