//Package metrics exposes the prometheus instruments for the view pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//Outcomes of registering a view.
const (
	OutcomeCounted  = "counted"
	OutcomeRepeat   = "repeat"
	OutcomeSelf     = "self"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

//Results of persisting a view job or syncing one cache key.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
	ResultOrphan  = "orphan"
)

var (
	//ViewsRegistered counts view submissions by outcome.
	ViewsRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleepost_views_registered_total",
			Help: "View submissions by outcome",
		},
		[]string{"outcome"},
	)

	//CacheErrors counts cache calls that failed because redis couldn't be reached.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleepost_view_cache_errors_total",
			Help: "View cache operations that failed for availability reasons",
		},
		[]string{"operation"},
	)

	//CacheBreakerState is 0 when the cache breaker is closed, 1 half-open, 2 open.
	CacheBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gleepost_view_cache_breaker_state",
			Help: "Circuit breaker state for the view cache (0 closed, 1 half-open, 2 open)",
		},
	)

	//PersistJobs counts write-through jobs by result.
	PersistJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleepost_view_persist_jobs_total",
			Help: "Asynchronous view persistence jobs by result",
		},
		[]string{"result"},
	)

	//PersistQueueDepth is the number of jobs waiting for a worker.
	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gleepost_view_persist_queue_depth",
			Help: "View persistence jobs waiting for a worker",
		},
	)

	//Sweeps counts view sync passes; coalesced requests are counted as "skipped".
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleepost_view_sync_sweeps_total",
			Help: "View sync sweeps by trigger",
		},
		[]string{"trigger"},
	)

	//SweepKeys counts cache keys visited by the syncer by result.
	SweepKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleepost_view_sync_keys_total",
			Help: "Cache keys visited by the view syncer by result",
		},
		[]string{"result"},
	)

	//SweepAppended counts viewers written to durable storage by the syncer.
	SweepAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gleepost_view_sync_appended_total",
			Help: "Viewers appended to durable storage by the view syncer",
		},
	)

	//SweepDuration records how long each sweep took.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gleepost_view_sync_duration_seconds",
			Help:    "Duration of view sync sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
)
