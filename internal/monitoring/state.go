package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	authSuccess atomic.Uint64
	authFailure atomic.Uint64
	authError   atomic.Uint64

	permissionAllowed atomic.Uint64
	permissionDenied  atomic.Uint64
	permissionError   atomic.Uint64

	appliesSubmitted atomic.Uint64
	appliesApproved  atomic.Uint64
	appliesPartial   atomic.Uint64
	appliesRejected  atomic.Uint64

	grantsByApply atomic.Uint64
	grantsByGrant atomic.Uint64
	grantsByRenew atomic.Uint64

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Value // *FailureRecord

	maintenance sync.Map // string -> *maintenanceStats
	releases    releaseStats
	syncs       syncStats
}

func newStatStore() *statStore {
	store := &statStore{}
	store.realtimeLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) cloneMaintenance() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		job := key.(string)
		stats := value.(*maintenanceStats)
		summaries = append(summaries, stats.snapshot(job))
		return true
	})
	return summaries
}

func (s *statStore) summary() Summary {
	lastFailure, _ := s.realtimeLastFailure.Load().(*FailureRecord)

	return Summary{
		GeneratedAt: time.Now(),
		Auth: AuthSummary{
			Success: s.authSuccess.Load(),
			Failure: s.authFailure.Load(),
			Error:   s.authError.Load(),
		},
		Permissions: PermissionSummary{
			Allowed: s.permissionAllowed.Load(),
			Denied:  s.permissionDenied.Load(),
			Error:   s.permissionError.Load(),
		},
		Applies: ApplySummary{
			Submitted: s.appliesSubmitted.Load(),
			Approved:  s.appliesApproved.Load(),
			Partial:   s.appliesPartial.Load(),
			Rejected:  s.appliesRejected.Load(),
		},
		Grants: GrantSummary{
			ByApply: s.grantsByApply.Load(),
			ByGrant: s.grantsByGrant.Load(),
			ByRenew: s.grantsByRenew.Load(),
		},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       lastFailure,
		},
		Maintenance: MaintenanceSummary{
			Jobs: s.cloneMaintenance(),
		},
		Releases:     s.releases.snapshot(),
		RegistrySync: s.syncs.snapshot(),
	}
}

func (s *statStore) recordAuth(result string) {
	switch result {
	case "success":
		s.authSuccess.Add(1)
	case "failure":
		s.authFailure.Add(1)
	default:
		s.authError.Add(1)
	}
}

func (s *statStore) recordPermission(result string) {
	switch result {
	case "allowed":
		s.permissionAllowed.Add(1)
	case "denied":
		s.permissionDenied.Add(1)
	default:
		s.permissionError.Add(1)
	}
}

func (s *statStore) recordApply(event string) {
	switch event {
	case "submitted":
		s.appliesSubmitted.Add(1)
	case "approved":
		s.appliesApproved.Add(1)
	case "partial_approved":
		s.appliesPartial.Add(1)
	case "rejected":
		s.appliesRejected.Add(1)
	}
}

func (s *statStore) recordGrant(origin string, count uint64) {
	switch origin {
	case "apply":
		s.grantsByApply.Add(count)
	case "grant":
		s.grantsByGrant.Add(count)
	case "renew":
		s.grantsByRenew.Add(count)
	}
}

func (s *statStore) recordRealtimeConnection(delta int64) {
	newValue := s.realtimeConnections.Add(delta)
	if newValue < 0 {
		s.realtimeConnections.Store(0)
	}
}

func (s *statStore) recordRealtimeBroadcast(stream string) {
	s.realtimeBroadcasts.Add(1)
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	cloned := record
	s.realtimeLastFailure.Store(&cloned)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	value, ok := s.maintenance.Load(job)
	if ok {
		return value.(*maintenanceStats)
	}
	stats := &maintenanceStats{}
	actual, _ := s.maintenance.LoadOrStore(job, stats)
	return actual.(*maintenanceStats)
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)
	lastRun := time.Unix(0, m.lastRun.Load())
	lastSuccess := time.Unix(0, m.lastSuccessfulRun.Load())

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           lastRun,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       lastSuccess,
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}

type releaseStats struct {
	success        atomic.Uint64
	failure        atomic.Uint64
	lastStatus     atomic.Value // string
	lastError      atomic.Value // string
	lastDuration   atomic.Int64
	lastCompleted  atomic.Int64
	totalLatencyNs atomic.Uint64
	totalRuns      atomic.Uint64
}

func (r *releaseStats) snapshot() ReleaseSummary {
	status, _ := r.lastStatus.Load().(string)
	errMsg, _ := r.lastError.Load().(string)
	total := r.totalRuns.Load()
	totalLatency := r.totalLatencyNs.Load()

	var avg float64
	if total > 0 {
		avg = float64(totalLatency) / float64(total) / float64(time.Second)
	}

	return ReleaseSummary{
		Success:               r.success.Load(),
		Failure:               r.failure.Load(),
		LastStatus:            status,
		LastDuration:          time.Duration(r.lastDuration.Load()),
		LastCompletedAt:       time.Unix(0, r.lastCompleted.Load()),
		LastError:             errMsg,
		AverageLatencySeconds: avg,
	}
}

func (r *releaseStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	if result == "success" {
		r.success.Add(1)
	} else {
		r.failure.Add(1)
	}

	r.lastStatus.Store(result)
	r.lastError.Store(message)
	r.lastDuration.Store(int64(duration))
	r.lastCompleted.Store(now.UnixNano())
	r.totalRuns.Add(1)
	r.totalLatencyNs.Add(uint64(duration))
}

type syncStats struct {
	runs            atomic.Uint64
	failures        atomic.Uint64
	lastStatus      atomic.Value // string
	lastError       atomic.Value // string
	lastRun         atomic.Int64
	lastDuration    atomic.Int64
	lastCreated     atomic.Int64
	lastUpdated     atomic.Int64
	lastDeactivated atomic.Int64
}

func (s *syncStats) snapshot() RegistrySyncSummary {
	status, _ := s.lastStatus.Load().(string)
	errMsg, _ := s.lastError.Load().(string)

	return RegistrySyncSummary{
		Runs:            s.runs.Load(),
		Failures:        s.failures.Load(),
		LastStatus:      status,
		LastRunAt:       time.Unix(0, s.lastRun.Load()),
		LastDuration:    time.Duration(s.lastDuration.Load()),
		LastError:       errMsg,
		LastCreated:     s.lastCreated.Load(),
		LastUpdated:     s.lastUpdated.Load(),
		LastDeactivated: s.lastDeactivated.Load(),
	}
}

func (s *syncStats) record(result, message string, created, updated, deactivated int64, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	s.runs.Add(1)
	if result != "success" {
		s.failures.Add(1)
	}
	s.lastStatus.Store(result)
	s.lastError.Store(message)
	s.lastRun.Store(time.Now().UnixNano())
	s.lastDuration.Store(int64(duration))
	s.lastCreated.Store(created)
	s.lastUpdated.Store(updated)
	s.lastDeactivated.Store(deactivated)
}
