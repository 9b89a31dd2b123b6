package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	resolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "daypartd",
			Name:      "resolve_duration_seconds",
			Help:      "Time to resolve an effective schedule.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	activeNowRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "active_now_requests_total",
			Help:      "Count of active-now resolutions.",
		},
	)

	unresolvableOverrides = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "unresolvable_overrides_total",
			Help:      "Count of overrides dropped during resolution.",
		},
	)

	stagedChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "staged_changes_total",
			Help:      "Count of changes staged into ledgers by type.",
		},
		[]string{"change_type"},
	)

	publishJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "publish_jobs_total",
			Help:      "Count of publish jobs by outcome.",
		},
		[]string{"outcome"},
	)

	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "sweep_runs_total",
			Help:      "Count of due-job sweep passes.",
		},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daypartd",
			Name:      "definition_cache_total",
			Help:      "Definition cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			resolveDuration,
			activeNowRequests,
			unresolvableOverrides,
			stagedChanges,
			publishJobs,
			sweepRuns,
			cacheHits,
		)
	})
}

func ObserveResolveDuration(seconds float64) {
	resolveDuration.Observe(seconds)
}

func IncActiveNowRequests() {
	activeNowRequests.Inc()
}

func AddUnresolvableOverrides(n int) {
	unresolvableOverrides.Add(float64(n))
}

func IncStagedChange(changeType string) {
	stagedChanges.WithLabelValues(changeType).Inc()
}

func IncPublishJob(outcome string) {
	publishJobs.WithLabelValues(outcome).Inc()
}

func IncSweepRuns() {
	sweepRuns.Inc()
}

func IncCacheLookup(result string) {
	cacheHits.WithLabelValues(result).Inc()
}
