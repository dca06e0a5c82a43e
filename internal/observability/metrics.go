package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request-level instrumentation of the HTTP pipeline.
type Metrics struct {
	registry               *prometheus.Registry
	requestsCounter        *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	bytesUploadedCounter   *prometheus.CounterVec
	bytesDownloadedCounter *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	requestsCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nebulafs",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "No of http requests handled by NebulaFS partitioned by method and status class",
		},
		[]string{"method", "class"},
	)

	requestDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nebulafs",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of http requests handled by NebulaFS partitioned by method",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	bytesUploadedCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nebulafs",
			Subsystem: "storage",
			Name:      "bytes_uploaded_total",
			Help:      "Total bytes uploaded by bucket",
		},
		[]string{"bucket"},
	)

	bytesDownloadedCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nebulafs",
			Subsystem: "storage",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes downloaded by bucket",
		},
		[]string{"bucket"},
	)

	for _, collector := range []prometheus.Collector{requestsCounter, requestDurationSeconds, bytesUploadedCounter, bytesDownloadedCounter} {
		err := registry.Register(collector)
		if err != nil {
			return nil, err
		}
	}

	return &Metrics{
		registry:               registry,
		requestsCounter:        requestsCounter,
		requestDurationSeconds: requestDurationSeconds,
		bytesUploadedCounter:   bytesUploadedCounter,
		bytesDownloadedCounter: bytesDownloadedCounter,
	}, nil
}

// Registry returns the registry the collectors live in, for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusClass(statusCode int) string {
	return fmt.Sprintf("%dxx", statusCode/100)
}

func (m *Metrics) RecordRequest(method string, statusCode int, durationSeconds float64) {
	m.requestsCounter.WithLabelValues(method, statusClass(statusCode)).Inc()
	m.requestDurationSeconds.WithLabelValues(method).Observe(durationSeconds)
}

func (m *Metrics) RecordBytesUploaded(bucket string, bytes int64) {
	m.bytesUploadedCounter.WithLabelValues(bucket).Add(float64(bytes))
}

func (m *Metrics) RecordBytesDownloaded(bucket string, bytes int64) {
	m.bytesDownloadedCounter.WithLabelValues(bucket).Add(float64(bytes))
}
