package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by cache and outcome.",
		},
		[]string{"cache", "outcome"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted, by cache and reason.",
		},
		[]string{"cache", "reason"},
	)

	cacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_bytes",
			Help: "Current accounted size of a cache in bytes.",
		},
		[]string{"cache"},
	)

	parseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parse_duration_seconds",
			Help:    "Duration of track parse requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"outcome"},
	)

	loaderBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_batches_total",
			Help: "Completed loader batches by outcome.",
		},
		[]string{"outcome"},
	)

	loaderProgressRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loader_progress_ratio",
			Help: "Fraction of loadable candidates loaded in the current session.",
		},
	)

	tileFetchSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_fetch_seconds",
			Help:    "Latency of upstream tile fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncCacheHit(cache string)  { cacheResults.WithLabelValues(cache, "hit").Inc() }
func IncCacheMiss(cache string) { cacheResults.WithLabelValues(cache, "miss").Inc() }

func IncEviction(cache, reason string) { cacheEvictions.WithLabelValues(cache, reason).Inc() }

func SetCacheBytes(cache string, n int64) { cacheBytes.WithLabelValues(cache).Set(float64(n)) }

func ObserveParse(outcome string, durationSeconds float64) {
	parseDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncLoaderBatch(outcome string) { loaderBatchesTotal.WithLabelValues(outcome).Inc() }

func SetLoaderProgress(ratio float64) { loaderProgressRatio.Set(ratio) }

func ObserveTileFetch(outcome string, durationSeconds float64) {
	tileFetchSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}
