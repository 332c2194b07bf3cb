// Package metrics exposes Prometheus counters for the authentication flows.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "warden"

var (
	// LoginAttemptsTotal counts login attempts by outcome
	// (success, mfa_required, invalid_credentials, locked, inactive, invalid_mfa).
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Total login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	AccountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Total number of accounts transitioned into lockout.",
		},
	)

	// TokenRefreshTotal counts refresh attempts by result (rotated, invalid, revoked).
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Total refresh token rotations by result.",
		},
		[]string{"result"},
	)

	SessionsRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Total sessions revoked by reason.",
		},
		[]string{"reason"},
	)

	MFAVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_verifications_total",
			Help:      "Total MFA code verifications by method and result.",
		},
		[]string{"method", "result"},
	)

	// DispatcherDroppedTotal counts side-effect jobs dropped because the queue was full.
	DispatcherDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_dropped_jobs_total",
			Help:      "Total background jobs dropped due to a full queue.",
		},
	)

	DispatcherJobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatcher_job_duration_seconds",
			Help:      "Background job duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
	)

	CleanupRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Total rows expired or purged by the cleanup job, by kind.",
		},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
