// Package events gives every push event a typed shape. The hub contract is
// not versioned and fields are added over time, so all decoding happens here
// at the boundary: missing fields default, unknown fields are ignored, and a
// malformed payload yields a zero value rather than an error.
package events

import (
	"sort"
	"time"

	"github.com/lancachetools/lansync/internal/common/cnst"
)

// Phase classifies a job event within the tracker state machine.
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseProgress
	PhaseComplete
)

// OperationStarted announces a new background job run.
type OperationStarted struct {
	OperationID string
	Entity      string // service name or game id for per-entity jobs
	Message     string
	Timestamp   time.Time
}

// OperationProgress carries a partial progress update for a running job.
type OperationProgress struct {
	OperationID     string
	Entity          string
	PercentComplete float64
	Status          string
	Message         string
	Details         map[string]any
}

// OperationComplete marks a job run as finished.
type OperationComplete struct {
	OperationID string
	Entity      string
	Success     bool
	Cancelled   bool
	Message     string
	Details     map[string]any
}

// EntityEvent is a server-side mutation of an event or download record that
// invalidates the association cache.
type EntityEvent struct {
	EventID    int64
	DownloadID int64
	Name       string
	StartTime  time.Time
	EndTime    time.Time
}

// PreferencesUpdated carries the authoritative preference set for a session.
type PreferencesUpdated struct {
	SessionID   string
	Preferences map[string]any
}

// PollingRateChanged retunes the fast polling tier at runtime.
type PollingRateChanged struct {
	SessionID       string
	IntervalSeconds int
}

// SteamSession is an auth-related informational event surfaced as a toast.
type SteamSession struct {
	Message string
	Reason  string
}

// jobEvent maps one push event name onto a tracker kind and phase.
type jobEvent struct {
	kind  cnst.JobKind
	phase Phase
}

var jobEvents = map[string]jobEvent{
	cnst.EventProcessingProgress:     {cnst.JobLogProcessing, PhaseProgress},
	cnst.EventFastProcessingComplete: {cnst.JobLogProcessing, PhaseComplete},
	cnst.EventBulkProcessingComplete: {cnst.JobLogProcessing, PhaseComplete},

	cnst.EventLogRemovalProgress: {cnst.JobLogRemoval, PhaseProgress},
	cnst.EventLogRemovalComplete: {cnst.JobLogRemoval, PhaseComplete},

	cnst.EventGameRemovalProgress: {cnst.JobGameRemoval, PhaseProgress},
	cnst.EventGameRemovalComplete: {cnst.JobGameRemoval, PhaseComplete},

	cnst.EventServiceRemovalProgress: {cnst.JobServiceRemoval, PhaseProgress},
	cnst.EventServiceRemovalComplete: {cnst.JobServiceRemoval, PhaseComplete},

	cnst.EventCorruptionRemovalStarted:  {cnst.JobCorruptionRemoval, PhaseStarted},
	cnst.EventCorruptionRemovalComplete: {cnst.JobCorruptionRemoval, PhaseComplete},

	cnst.EventGameDetectionStarted:  {cnst.JobGameDetection, PhaseStarted},
	cnst.EventGameDetectionComplete: {cnst.JobGameDetection, PhaseComplete},

	cnst.EventCacheClearProgress: {cnst.JobCacheClearing, PhaseProgress},
	cnst.EventCacheClearComplete: {cnst.JobCacheClearing, PhaseComplete},

	cnst.EventDatabaseResetProgress: {cnst.JobDatabaseReset, PhaseProgress},

	cnst.EventDepotMappingStarted:  {cnst.JobDepotMapping, PhaseStarted},
	cnst.EventDepotMappingProgress: {cnst.JobDepotMapping, PhaseProgress},
	cnst.EventDepotMappingComplete: {cnst.JobDepotMapping, PhaseComplete},
}

// JobEventNames lists every push event name that is a job lifecycle event,
// sorted for stable subscription order.
func JobEventNames() []string {
	names := make([]string, 0, len(jobEvents))
	for name := range jobEvents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobEvent resolves a push event name to its job kind and phase. The second
// return is false for events that are not job lifecycle events.
func JobEvent(name string) (cnst.JobKind, Phase, bool) {
	je, ok := jobEvents[name]
	if !ok {
		return "", 0, false
	}
	return je.kind, je.phase, true
}
