package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedda_generations_submitted_total",
			Help: "Jobs accepted by the execution engine",
		},
		[]string{"page", "profile"},
	)

	GenerationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedda_generations_completed_total",
			Help: "Jobs whose artifacts were resolved",
		},
		[]string{"page", "profile", "trigger"},
	)

	GenerationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedda_generations_failed_total",
			Help: "Jobs that ended without artifacts",
		},
		[]string{"page", "reason"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedda_generation_duration_seconds",
			Help:    "Time from submit to resolved artifacts",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"page", "profile"},
	)

	GenerationsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fedda_generations_active",
			Help: "Jobs currently being tracked per page",
		},
		[]string{"page"},
	)

	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedda_result_poll_attempts_total",
			Help: "History lookups made while waiting for results",
		},
		[]string{"page"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedda_push_frames_dropped_total",
			Help: "Push frames dropped because they could not be decoded",
		},
	)

	BackendOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fedda_backend_online",
			Help: "1 when the backend answered its last liveness probe",
		},
		[]string{"backend"},
	)
)
