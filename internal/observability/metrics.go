package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_requested_total", Help: "Rides created by riders"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_accepted_total", Help: "Rides accepted by drivers"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_completed_total", Help: "Rides finished by either party"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race for a ride"})
	RidesArchived   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_archived_total", Help: "Completed rides archived via history clearing"})
	PanicAlerts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "panic_alerts_total", Help: "Panic alerts raised by riders"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hailing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
