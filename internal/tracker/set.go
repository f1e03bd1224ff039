package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/events"
	"github.com/lancachetools/lansync/internal/store"
)

// Set owns one tracker per job kind and routes push events to them.
type Set struct {
	logger   *zap.Logger
	trackers map[cnst.JobKind]*Tracker
}

// NewSet builds a tracker for every job kind.
func NewSet(logger *zap.Logger, st store.Store, opts Options) *Set {
	s := &Set{
		logger:   logger.Named("trackers"),
		trackers: make(map[cnst.JobKind]*Tracker, len(cnst.AllJobKinds)),
	}
	for _, kind := range cnst.AllJobKinds {
		s.trackers[kind] = New(logger, kind, st, opts)
	}
	return s
}

// Tracker returns the tracker for one job kind.
func (s *Set) Tracker(kind cnst.JobKind) *Tracker {
	return s.trackers[kind]
}

// HandleEvent decodes a job lifecycle push event and applies it to the
// owning tracker. Non-job events are ignored.
func (s *Set) HandleEvent(ctx context.Context, name string, payload []byte) {
	kind, phase, ok := events.JobEvent(name)
	if !ok {
		return
	}
	t := s.trackers[kind]

	switch phase {
	case events.PhaseStarted:
		t.HandleStarted(ctx, events.DecodeStarted(payload))
	case events.PhaseProgress:
		t.HandleProgress(ctx, events.DecodeProgress(payload))
	case events.PhaseComplete:
		t.HandleComplete(ctx, events.DecodeComplete(payload))
	}
}

// RestoreAll loads persisted snapshots for every persistent kind.
func (s *Set) RestoreAll(ctx context.Context) {
	for _, t := range s.trackers {
		if err := t.Restore(ctx); err != nil {
			s.logger.Warn("restore snapshot",
				zap.String("kind", string(t.Kind())), zap.Error(err))
		}
	}
}

// RecoverAll reconciles every tracker against the server, once on startup
// and again after each reconnect. Per-kind failures are logged and skipped;
// a partially reachable server still recovers what it can.
func (s *Set) RecoverAll(ctx context.Context, client StatusClient) {
	for _, kind := range cnst.AllJobKinds {
		if err := s.trackers[kind].Recover(ctx, client); err != nil {
			s.logger.Warn("recover job status",
				zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

// SweepAll prunes aged-out terminal entries across all trackers.
func (s *Set) SweepAll(ctx context.Context, now time.Time) {
	for _, t := range s.trackers {
		t.Sweep(ctx, now)
	}
}

// Notifications merges all trackers' entries, ordered by start time.
func (s *Set) Notifications() []Notification {
	var out []Notification
	for _, t := range s.trackers {
		out = append(out, t.Notifications()...)
	}
	sortNotifications(out)
	return out
}

// AnyBulkRunning reports whether a job that slows the whole server is in
// flight, used to stretch REST timeouts while it runs.
func (s *Set) AnyBulkRunning() bool {
	return s.trackers[cnst.JobLogProcessing].Running() ||
		s.trackers[cnst.JobCacheClearing].Running() ||
		s.trackers[cnst.JobDatabaseReset].Running()
}
