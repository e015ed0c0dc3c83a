package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records connection authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_attempts_total",
			Help: "Total number of connection authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveConnections tracks currently connected websocket clients.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of active websocket connections",
		},
	)

	// EventsDispatched counts inbound client events by namespace and event name.
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_dispatched_total",
			Help: "Total number of inbound client events dispatched to handlers",
		},
		[]string{"namespace", "event"},
	)

	// RateLimitDenials counts events rejected by the sliding-window limiter.
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_denials_total",
			Help: "Total number of events denied by rate limiting",
		},
		[]string{"event"},
	)

	// NamespaceDenials counts namespace joins rejected for missing permissions.
	NamespaceDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_namespace_denials_total",
			Help: "Total number of namespace joins denied by authorization",
		},
		[]string{"namespace"},
	)

	// AuditFailures counts audit entries that could not be persisted.
	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_audit_failures_total",
			Help: "Total number of audit log writes that failed",
		},
	)

	// UpstreamErrors counts failures talking to external processing services.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Total number of upstream service stream failures",
		},
		[]string{"service"},
	)
)
