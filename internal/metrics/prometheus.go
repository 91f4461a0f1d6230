package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts committed lifecycle transitions
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Total number of committed escrow transitions",
		},
		[]string{"from", "to"},
	)

	// TransitionFailures counts rejected transition attempts by error code
	TransitionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transition_failures_total",
			Help: "Total number of rejected escrow transitions",
		},
		[]string{"code"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweep_runs_total",
			Help: "Total number of expiry sweeper passes",
		},
		[]string{"result"},
	)

	// SweepItems counts per-transaction sweeper outcomes (expired, settled, skipped, failed)
	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweep_items_total",
			Help: "Total number of transactions handled by the expiry sweeper",
		},
		[]string{"outcome"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_sweep_duration_seconds",
			Help:    "Expiry sweeper pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// GatewayBreakerState tracks the payment gateway breaker (0=closed, 1=open, 2=half-open)
	GatewayBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_gateway_breaker_state",
			Help: "Payment gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
)

// PrometheusMiddleware records request count and latency per matched route.
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		RequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}
