package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersRegisteredTotal,
		rateLimitTriggeredTotal,
		alertsTotal,
		httpRequestDuration,
	)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_users_registered_total",
			Help: "Total number of learner profiles registered or refreshed.",
		},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_rate_limit_triggered_total",
			Help: "Total number of times order creation was rate-limited.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_alerts_total",
			Help: "Operational alerts by delivery status.",
		},
		[]string{"status"}, // 'sent', 'error'
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP handler latency by route pattern, method and status class.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"route", "method", "code"},
	)
)

func IncUsersRegistered() {
	usersRegisteredTotal.Inc()
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}

func IncAlert(status string) {
	alertsTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveHTTP(route, method, code string, seconds float64) {
	httpRequestDuration.WithLabelValues(route, method, code).Observe(seconds)
}
