// Package metrics declares the Prometheus collectors used across the service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	OrdersCreated    *prometheus.CounterVec
	OrdersCancelled  *prometheus.CounterVec
	Reservations     *prometheus.CounterVec
	Payments         *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
	CompensationRuns prometheus.Counter
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP request handling in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OrdersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_created_total",
				Help: "Order creation attempts by outcome.",
			},
			[]string{"outcome"},
		),
		OrdersCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_cancelled_total",
				Help: "Order cancellation attempts by outcome.",
			},
			[]string{"outcome"},
		),
		Reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_reservations_total",
				Help: "Inventory reservation attempts by outcome.",
			},
			[]string{"outcome"},
		),
		Payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_total",
				Help: "Payment attempts by outcome.",
			},
			[]string{"outcome"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_publish_failed_total",
				Help: "Count of event publish failures.",
			},
			[]string{"event"},
		),
		CompensationRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "saga_compensations_total",
				Help: "Number of times order creation ran inventory compensation.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.OrdersCreated,
		m.OrdersCancelled,
		m.Reservations,
		m.Payments,
		m.PublishFailures,
		m.CompensationRuns,
	)
	return m
}

// NewNop returns collectors registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
