package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionApplies counts apply submissions by grant dimension (gateway|resource).
	PermissionApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_permission_applies_total",
			Help: "Total number of permission apply submissions",
		},
		[]string{"dimension"},
	)

	// PermissionHandled counts resolved apply records by final status.
	PermissionHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_permission_handled_total",
			Help: "Total number of resolved permission applies",
		},
		[]string{"dimension", "status"},
	)

	// PermissionGrants counts grant upserts by origin (apply|grant|renew).
	PermissionGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_permission_grants_total",
			Help: "Total number of grant rows created or extended",
		},
		[]string{"dimension", "origin"},
	)

	// ReleaseAttempts counts stage release attempts and their outcome (success|failure|locked).
	ReleaseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_release_attempts_total",
			Help: "Total number of stage release attempts",
		},
		[]string{"result"},
	)

	// ESBSyncComponents counts ESB components touched by a sync run (created|updated|deactivated|unchanged).
	ESBSyncComponents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_esb_sync_components_total",
			Help: "ESB component registry sync outcomes",
		},
		[]string{"action"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apigate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
