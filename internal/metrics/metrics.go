// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthAttempts counts sign-in and registration attempts by method and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authserver_auth_attempts_total",
		Help: "Total number of authentication attempts",
	},
	[]string{"method", "outcome"},
)

// RateLimited counts requests rejected by a rate limit.
var RateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authserver_rate_limited_total",
		Help: "Total number of requests rejected by a rate limit",
	},
	[]string{"scope"},
)

// Notifications counts OTP and magic-link deliveries handed to a notifier.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authserver_notifications_total",
		Help: "Total number of notifications dispatched",
	},
	[]string{"kind", "status"},
)

// RequestDuration observes HTTP handler latency per route pattern.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "authserver_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// RegisterMetrics registers the collectors with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(RateLimited)
	reg.MustRegister(Notifications)
	reg.MustRegister(RequestDuration)
}

func RecordAuthAttempt(method, outcome string) {
	AuthAttempts.WithLabelValues(method, outcome).Inc()
}

func RecordRateLimited(scope string) {
	RateLimited.WithLabelValues(scope).Inc()
}

func RecordNotification(kind, status string) {
	Notifications.WithLabelValues(kind, status).Inc()
}

func RecordRequest(method, route, status string, duration time.Duration) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
