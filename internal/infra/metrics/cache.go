package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "billing_cache_requests_total",
		Help: "Cache lookups by cache and result.",
	},
	[]string{"cache", "result"}, // e.g., cache="user", result="hit"|"miss"|"bypass"
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
