package metrics
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)
var (
	SnippetShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_snippet_shared_total",
		Help: "no. of snippets shared",
	})
	SnippetRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_snippet_retrieved_total",
		Help: "no. of snippets retrieved",
	})
	SnippetFiles = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bettergist_snippet_files",
		Help:    "files per shared snippet",
		Buckets: []float64{1, 2, 3, 5, 10, 20},
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bettergist_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"layer"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bettergist_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bettergist_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	LimiterFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_rate_limiter_fail_open_total",
		Help: "no. of share attempts let through because the counter store failed",
	})
	ChallengeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bettergist_challenge_failures_total",
			Help: "no. of rejected abuse challenges",
		},
		[]string{"reason"},
	)
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bettergist_store_errors_total",
			Help: "no. of failed store operations",
		},
		[]string{"op"},
	)
	IDConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_id_conflicts_total",
		Help: "no. of identifier collisions on insert",
	})
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	SnippetsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettergist_snippets_pruned_total",
		Help: "no. of expired snippets removed",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bettergist_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
