package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eduoj_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	SubmissionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduoj_submissions_created_total",
			Help: "Submissions accepted, by event type and language",
		},
		[]string{"event_type", "language"},
	)

	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduoj_submissions_rejected_total",
			Help: "Uploads refused before a submission row existed",
		},
		[]string{"verdict"},
	)

	VerdictsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduoj_verdicts_ingested_total",
			Help: "Terminal grading outcomes applied to submissions",
		},
		[]string{"status", "verdict"},
	)

	StaleReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduoj_stale_grading_reports_total",
			Help: "Judge reports rejected because a newer attempt exists",
		},
	)

	DispatchPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduoj_dispatch_publish_retries_total",
			Help: "Retries while handing judge jobs to the queue",
		},
	)

	DispatchPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduoj_dispatch_publish_failures_total",
			Help: "Judge jobs left queued after exhausting publish retries",
		},
	)

	ContestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduoj_contest_transitions_total",
			Help: "Persisted contest phase transitions",
		},
		[]string{"to"},
	)

	ScoreboardBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eduoj_scoreboard_build_duration_seconds",
			Help:    "Time spent aggregating a scoreboard from the database",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	ScoreboardCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduoj_scoreboard_cache_total",
			Help: "Scoreboard lookups by cache outcome",
		},
		[]string{"outcome"},
	)
)
