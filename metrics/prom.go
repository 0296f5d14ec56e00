package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClipCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_clip_created_total",
		Help: "no. of clips created",
	})
	ClipRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_clip_retrieved_total",
		Help: "no. of clips retrieved",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipd_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"layer"},
	)
	ReaperCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_reaper_cycles_total",
		Help: "no. of reaper sweep cycles",
	})
	ReaperDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_reaper_deleted_total",
		Help: "no. of expired clips deleted by the reaper",
	})
	ExpiredClips = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipd_expired_clips",
		Help: "expired-but-unreaped clips at last sweep",
	})
	UserCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_user_created_total",
		Help: "no. of users registered",
	})
	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipd_login_failures_total",
		Help: "no. of failed login attempts",
	})
)

func Init() {
}
