// Package metrics exposes the service's Prometheus instrumentation.
//
// The collectors register with the default registry on import (promauto), and
// the server serves that registry at /metrics. Record* helpers keep label
// handling in one place so callers never build label values themselves.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Domain
	RatingsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratings_submitted_total",
			Help: "Total number of accepted rating submissions, overwrites included",
		},
	)

	ResourceDownloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resource_downloads_total",
			Help: "Total number of resource downloads served",
		},
	)

	ResourcesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resources_uploaded_total",
			Help: "Total number of resources uploaded",
		},
	)

	ResourcesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resources_deleted_total",
			Help: "Total number of resources deleted by owners or admins",
		},
	)

	// Events
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_consumed_total",
			Help: "Total number of domain events handled by the in-process consumer",
		},
		[]string{"type"},
	)
)

// RecordHTTPRequest records one finished request. route is the chi route
// pattern ("/api/resources/{id}"), never the raw path, to keep cardinality bounded.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordRating()   { RatingsSubmitted.Inc() }
func RecordDownload() { ResourceDownloads.Inc() }
func RecordUpload()   { ResourcesUploaded.Inc() }
func RecordDelete()   { ResourcesDeleted.Inc() }

// RecordEvent counts an event handled by the consumer.
func RecordEvent(eventType string) {
	EventsConsumed.WithLabelValues(eventType).Inc()
}
