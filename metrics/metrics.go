package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admissions counts every admission attempt by outcome:
	// pending, resource_locked, cached_conflict, durable_conflict, not_found, error.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_admissions_total",
		Help: "Seat admission attempts by outcome",
	}, []string{"outcome"})

	AdmissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seat_admission_duration_seconds",
		Help:    "Time spent in the admission path",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"path"})

	// Settlements counts queue entries handled by the settlement worker:
	// settled, rejected, duplicate, redelivered, dead_lettered.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_settlements_total",
		Help: "Write-back queue entries processed by outcome",
	}, []string{"outcome"})

	ReservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Reservation status changes made by confirm, cancel and expiry",
	}, []string{"transition"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seat_write_back_queue_depth",
		Help: "Intents waiting in the write-back queue",
	})

	LockReleaseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_lock_release_failures_total",
		Help: "Seat lock releases that failed and were left to TTL expiry",
	})

	SkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_skipped_ticks_total",
		Help: "Worker ticks skipped because the previous run was still in progress",
	}, []string{"worker"})
)
