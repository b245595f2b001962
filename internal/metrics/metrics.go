// Package metrics holds the Prometheus collectors shared by the API server
// and the notify worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinic_scheduling"

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bookings_total",
		Help:      "Booking attempts by outcome (booked, unavailable, invalid, error).",
	}, []string{"outcome"})

	SlotQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slot_queries_total",
		Help:      "Available-slot and availability-count queries by kind.",
	}, []string{"kind"})

	SlotGenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "slot_generation_duration_seconds",
		Help:      "Time spent computing free slots, including repository reads.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	CountsCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_counts_cache_total",
		Help:      "Availability count lookups by cache result (hit, miss).",
	}, []string{"result"})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Booking events that could not be handed to the event stream.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
