// Package metrics holds the Prometheus collectors of the registry server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plmsync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plmsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Registry metrics
	LockOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plmsync",
			Subsystem: "registry",
			Name:      "lock_operations_total",
			Help:      "Item and file lock operations by target, action and outcome.",
		},
		[]string{"target", "action", "outcome"},
	)

	FileBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plmsync",
			Subsystem: "vault",
			Name:      "bytes_stored_total",
			Help:      "Bytes written to the file vault.",
		},
	)

	OrphanFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "plmsync",
			Subsystem: "vault",
			Name:      "orphan_files",
			Help:      "Files past retention that no item references.",
		},
	)
)

// RecordHTTPRequest counts one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLock counts a lock or unlock attempt. outcome is "ok", "conflict", "not_locked" or "error".
func RecordLock(target, action, outcome string) {
	LockOperations.WithLabelValues(target, action, outcome).Inc()
}
