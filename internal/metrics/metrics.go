package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesCreated counts dispatch records written.
	DispatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podtrack_dispatches_created_total",
		Help: "Total number of loadsheets dispatched",
	})

	// EventMutations counts event store writes by operation (append/update/delete) and event type.
	EventMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podtrack_event_mutations_total",
		Help: "Total number of lifecycle event mutations",
	}, []string{"op", "event_type"})

	// MutationFailures counts rejected or failed mutations by operation.
	MutationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podtrack_mutation_failures_total",
		Help: "Total number of failed store mutations",
	}, []string{"op"})

	// OnSiteHours observes on-site durations for every analyzed loadsheet with a complete visit.
	OnSiteHours = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "podtrack_onsite_hours",
		Help:    "On-site duration of analyzed loadsheets in hours",
		Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 4, 6, 8},
	})

	// ReportsComposed counts proof-of-delivery documents built.
	ReportsComposed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podtrack_reports_composed_total",
		Help: "Total number of delivery reports composed",
	})

	// MediaStored counts blobs written to the media store by role.
	MediaStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podtrack_media_stored_total",
		Help: "Total number of media blobs stored",
	}, []string{"role"})

	// HTTPRequestDuration measures API request latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podtrack_http_request_duration_seconds",
		Help:    "Duration of HTTP API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
