// Package prefs keeps a session's preference set in sync with the server:
// optimistic local writes, authoritative push reconciliation, and a cooldown
// window that stops a stale echo from reverting a just-applied change.
package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/events"
)

// Client is the slice of the REST client the synchronizer writes through.
type Client interface {
	Preferences(ctx context.Context, sessionID string) (map[string]any, error)
	SetPreference(ctx context.Context, sessionID, key string, value any) error
}

// timezoneFields are race-prone display flags: the server recomputes them as
// a dependent pair, so an echo can briefly contradict a local write. Within
// the cooldown the optimistic value wins.
var timezoneFields = map[string]struct{}{
	"use24HourFormat": {},
	"showLocalTime":   {},
	"showYearInDates": {},
}

// Options configures a Synchronizer.
type Options struct {
	Cooldown time.Duration // optimistic write protection window, default 3s
	OnChange func(key string, value any)

	now func() time.Time // test override
}

type optimisticWrite struct {
	value any
	at    time.Time
}

// Synchronizer holds one session's preferences.
type Synchronizer struct {
	logger    *zap.Logger
	client    Client
	sessionID string
	opts      Options

	mu         sync.Mutex
	prefs      map[string]any
	optimistic map[string]optimisticWrite
}

// NewSynchronizer creates a synchronizer for one session.
func NewSynchronizer(logger *zap.Logger, client Client, sessionID string, opts Options) *Synchronizer {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 3 * time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Synchronizer{
		logger:     logger.Named("prefs"),
		client:     client,
		sessionID:  sessionID,
		opts:       opts,
		prefs:      make(map[string]any),
		optimistic: make(map[string]optimisticWrite),
	}
}

// Get returns the current value for one key.
func (s *Synchronizer) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok
}

// All returns a copy of the full preference set.
func (s *Synchronizer) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.prefs))
	for k, v := range s.prefs {
		out[k] = v
	}
	return out
}

// SetOptimistic applies a preference locally before the server confirms,
// then writes through. The local value is protected from push echoes for the
// cooldown window; a write-through failure keeps the local value and relies
// on the next authoritative push to settle it.
func (s *Synchronizer) SetOptimistic(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	s.prefs[key] = value
	s.optimistic[key] = optimisticWrite{value: value, at: s.opts.now()}
	s.mu.Unlock()

	s.emit(key, value)

	if err := s.client.SetPreference(ctx, s.sessionID, key, value); err != nil {
		s.logger.Warn("preference write-through failed",
			zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// HandleUpdated applies an authoritative preference push for this session.
// Pushes for other sessions are ignored. An identical set is a no-op; keys
// under an active cooldown keep their optimistic value.
func (s *Synchronizer) HandleUpdated(ev events.PreferencesUpdated) {
	if ev.SessionID != "" && ev.SessionID != s.sessionID {
		return
	}
	s.apply(ev.Preferences)
}

// Refresh pulls the authoritative set from the server, used on startup,
// after a reconnect, and on a preferences-reset push.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	incoming, err := s.client.Preferences(ctx, s.sessionID)
	if err != nil {
		return err
	}
	s.apply(incoming)
	return nil
}

func (s *Synchronizer) apply(incoming map[string]any) {
	now := s.opts.now()

	s.mu.Lock()
	normalized := make(map[string]any, len(incoming))
	for k, v := range incoming {
		normalized[k] = v
	}
	for key := range timezoneFields {
		if opt, ok := s.activeOptimistic(key, now); ok {
			normalized[key] = opt.value
		}
	}

	if equalJSON(normalized, s.prefs) {
		s.mu.Unlock()
		return
	}

	type change struct {
		key   string
		value any
	}
	var changes []change
	for k, v := range normalized {
		if _, ok := s.activeOptimistic(k, now); ok {
			// Keep the optimistic value until the cooldown expires.
			normalized[k] = s.prefs[k]
			continue
		}
		if prev, ok := s.prefs[k]; !ok || !equalJSON(prev, v) {
			changes = append(changes, change{key: k, value: v})
		}
	}
	s.prefs = normalized
	s.mu.Unlock()

	for _, c := range changes {
		s.emit(c.key, c.value)
	}
}

// activeOptimistic reports an optimistic write still inside its cooldown.
// Expired entries are pruned as a side effect. Caller holds the lock.
func (s *Synchronizer) activeOptimistic(key string, now time.Time) (optimisticWrite, bool) {
	opt, ok := s.optimistic[key]
	if !ok {
		return optimisticWrite{}, false
	}
	if now.Sub(opt.at) >= s.opts.Cooldown {
		delete(s.optimistic, key)
		return optimisticWrite{}, false
	}
	return opt, true
}

func (s *Synchronizer) emit(key string, value any) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(key, value)
	}
}

// equalJSON compares two values by their canonical JSON encoding, which
// sidesteps float64-vs-int mismatches in decoded payloads.
func equalJSON(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
