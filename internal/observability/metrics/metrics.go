// Package metrics holds the Prometheus collectors of the relay.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_operations_total",
			Help: "Gateway operations by outcome (success or error kind).",
		},
		[]string{"operation", "outcome"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_authentication_attempts_total",
			Help: "Bearer gate decisions by method and result.",
		},
		[]string{"method", "result"},
	)

	RateLimitedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limited_requests_total",
			Help: "Requests refused by the per-IP limiter.",
		},
	)

	WelcomeNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_welcome_notifications_total",
			Help: "Delayed welcome notifications by outcome.",
		},
		[]string{"outcome"},
	)
)

// MustRegister registers every collector with the default registry under a
// constant service label. Call once at startup.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		OperationsTotal,
		AuthenticationAttemptsTotal,
		RateLimitedRequestsTotal,
		WelcomeNotificationsTotal,
	)
}
