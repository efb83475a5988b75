package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_requested_total", Help: "Ride requests written to the store"})
	RidesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_accepted_total", Help: "Rides claimed by a driver"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_completed_total", Help: "Rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_cancelled_total", Help: "Rides cancelled by either party"})

	MachinesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "campus_rides", Name: "machines_active", Help: "Mounted dashboard state machines"},
		[]string{"role"},
	)
	ToastsPushed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "toasts_pushed_total", Help: "Toasts pushed to the notification queue"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
