package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		ordersCreatedTotal,
		paymentsTotal,
		paymentsRevenueMinor,
		gatewayRequestDuration,
	)
}

var (
	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_orders_created_total",
			Help: "Orders created, by currency and whether proration applied.",
		},
		[]string{"currency", "upgrade"},
	)

	// status: verified|recovered|already_completed|signature_mismatch|failed|expired
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_payments_total",
			Help: "Payment outcomes by status.",
		},
		[]string{"status"},
	)

	paymentsRevenueMinor = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_payments_revenue_minor_total",
			Help: "Captured revenue in currency minor units.",
		},
		[]string{"currency"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency by operation and result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op", "result"},
	)
)

func IncOrderCreated(currency string, upgrade bool) {
	ordersCreatedTotal.WithLabelValues(norm(currency), strconv.FormatBool(upgrade)).Inc()
}

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amountMinor int64) {
	paymentsRevenueMinor.WithLabelValues(norm(currency)).Add(float64(amountMinor))
}

func ObserveGatewayRequest(op string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	gatewayRequestDuration.WithLabelValues(norm(op), result).Observe(d.Seconds())
}
