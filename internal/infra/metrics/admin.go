package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(adminRequestsTotal) }

var adminRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "billing_admin_requests_total",
		Help: "Tracks calls to admin-key protected endpoints.",
	},
	[]string{"endpoint", "status"}, // status: 'authorized', 'unauthorized'
)

func IncAdminRequest(endpoint, status string) {
	adminRequestsTotal.WithLabelValues(norm(endpoint), norm(status)).Inc()
}
