package monitoring

import (
	"strings"
	"time"
)

// RecordAuthAttempt increments the auth attempt counter.
func RecordAuthAttempt(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.authAttempts.WithLabelValues(label).Inc()
	module.stats.recordAuth(label)
}

// RecordPermissionCheck records the outcome of an app permission evaluation.
func RecordPermissionCheck(dimension, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	dim := normalizeLabel(dimension)
	label := normalizeLabel(result)
	module.metrics.permissionChecks.WithLabelValues(dim, label).Inc()
	module.stats.recordPermission(label)
}

// RecordApplyEvent tracks a permission apply lifecycle event
// (submitted, approved, partial_approved, rejected).
func RecordApplyEvent(dimension, event string) {
	module := ensureModule()
	if module == nil {
		return
	}
	dim := normalizeLabel(dimension)
	label := normalizeLabel(event)
	module.metrics.applyEvents.WithLabelValues(dim, label).Inc()
	module.stats.recordApply(label)
}

// RecordGrantEvent tracks grant rows created or extended by origin (apply, grant, renew).
func RecordGrantEvent(dimension, origin string, count int) {
	module := ensureModule()
	if module == nil {
		return
	}
	if count <= 0 {
		return
	}
	dim := normalizeLabel(dimension)
	label := normalizeLabel(origin)
	module.metrics.grantEvents.WithLabelValues(dim, label).Add(float64(count))
	module.stats.recordGrant(label, uint64(count))
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	if delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	module.stats.recordRealtimeConnection(delta)
	if module.stats.realtimeConnections.Load() < 0 {
		module.stats.realtimeConnections.Store(0)
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeSubscription tracks subscribe/unsubscribe events.
func RecordRealtimeSubscription(stream, action string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	if stream == "" {
		stream = "unknown"
	}
	action = normalizeLabel(action)
	module.metrics.realtimeSubscriptions.WithLabelValues(stream, action).Inc()
}

// RecordRealtimeBroadcast increments broadcast counters per stream.
func RecordRealtimeBroadcast(stream string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	if stream == "" {
		stream = "unknown"
	}
	module.metrics.realtimeBroadcasts.WithLabelValues(stream).Inc()
	module.stats.recordRealtimeBroadcast(stream)
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(stream, failureType, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	if stream == "" {
		stream = "unknown"
	}
	failureType = normalizeLabel(failureType)
	if failureType == "" {
		failureType = "unknown"
	}
	module.metrics.realtimeFailures.WithLabelValues(stream, failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   stream,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	if jobID == "" {
		jobID = "unknown"
	}
	result = normalizeLabel(result)
	if result == "" {
		result = "unknown"
	}
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.maintenanceEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

// RecordRelease captures a stage release attempt and its runtime stats.
func RecordRelease(result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	result = normalizeLabel(result)
	if result == "" {
		result = "unknown"
	}
	module.metrics.releaseRuns.WithLabelValues(result).Inc()
	observeDuration(module.metrics.releaseDuration, duration)
	module.stats.releases.record(result, strings.TrimSpace(message), duration)
}

// RecordRegistrySync records a component registry sync run and the rows it touched.
func RecordRegistrySync(result, message string, created, updated, deactivated int64, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	result = normalizeLabel(result)
	if result == "" {
		result = "unknown"
	}
	module.metrics.registrySyncRuns.WithLabelValues(result).Inc()
	module.metrics.registrySyncChanges.WithLabelValues("created").Add(float64(created))
	module.metrics.registrySyncChanges.WithLabelValues("updated").Add(float64(updated))
	module.metrics.registrySyncChanges.WithLabelValues("deactivated").Add(float64(deactivated))
	module.stats.syncs.record(result, strings.TrimSpace(message), created, updated, deactivated, duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	if path == "" {
		return ""
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
