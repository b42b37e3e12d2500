package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	authAttempts          *prometheus.CounterVec
	permissionChecks      *prometheus.CounterVec
	applyEvents           *prometheus.CounterVec
	grantEvents           *prometheus.CounterVec
	apiLatency            *prometheus.HistogramVec
	realtimeConnections   prometheus.Gauge
	realtimeBroadcasts    *prometheus.CounterVec
	realtimeFailures      *prometheus.CounterVec
	realtimeSubscriptions *prometheus.CounterVec
	maintenanceRuns       *prometheus.CounterVec
	maintenanceDuration   *prometheus.HistogramVec
	maintenanceLastRun    *prometheus.GaugeVec
	releaseRuns           *prometheus.CounterVec
	releaseDuration       prometheus.Histogram
	registrySyncRuns      *prometheus.CounterVec
	registrySyncChanges   *prometheus.CounterVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets

	return &collectors{
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Total number of operator authentication attempts",
			},
			[]string{"result"},
		),
		permissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_checks_total",
				Help:      "Total number of app permission evaluations",
			},
			[]string{"dimension", "result"},
		),
		applyEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_apply_events_total",
				Help:      "Permission apply lifecycle events by outcome",
			},
			[]string{"dimension", "event"},
		),
		grantEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_grant_events_total",
				Help:      "Grant rows created or extended by origin",
			},
			[]string{"dimension", "origin"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Messages broadcast across realtime streams",
			},
			[]string{"stream"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime broadcast or subscription failures",
			},
			[]string{"stream", "type"},
		),
		realtimeSubscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_subscriptions_total",
				Help:      "Realtime subscribe/unsubscribe events",
			},
			[]string{"stream", "action"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
		releaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "release_runs_total",
				Help:      "Stage release attempts grouped by result",
			},
			[]string{"result"},
		),
		releaseDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "release_duration_seconds",
				Help:      "Duration of stage release transactions",
				Buckets:   buckets,
			},
		),
		registrySyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_sync_runs_total",
				Help:      "Component registry sync runs grouped by result",
			},
			[]string{"result"},
		),
		registrySyncChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_sync_changes_total",
				Help:      "Component registry rows touched per sync action",
			},
			[]string{"action"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.authAttempts,
		c.permissionChecks,
		c.applyEvents,
		c.grantEvents,
		c.apiLatency,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
		c.realtimeSubscriptions,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
		c.releaseRuns,
		c.releaseDuration,
		c.registrySyncRuns,
		c.registrySyncChanges,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
