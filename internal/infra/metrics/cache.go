package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(catalogCacheRequests) }

var catalogCacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_cache_requests_total",
		Help: "Course catalog lookups served from Redis (hit) or Postgres (miss).",
	},
	[]string{"cache", "result"}, // cache="course", result="hit"|"miss"
)

func IncCacheRequest(cacheName, result string) {
	catalogCacheRequests.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
