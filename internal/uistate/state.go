// Package uistate persists the dashboard's view selections that survive a
// restart: the event-id filter set and the selected game-service tab. Each
// lives under its own store key so a corrupt entry loses only itself.
package uistate

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/store"
)

// State holds the durable view selections.
type State struct {
	logger *zap.Logger
	store  store.Store

	mu       sync.Mutex
	eventIDs map[int64]struct{}
	tab      string
}

// NewState creates an empty state.
func NewState(logger *zap.Logger, st store.Store) *State {
	return &State{
		logger:   logger.Named("uistate"),
		store:    st,
		eventIDs: make(map[int64]struct{}),
	}
}

// EventFilter returns the selected event ids in ascending order.
func (s *State) EventFilter() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.eventIDs))
	for id := range s.eventIDs {
		out = append(out, id)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetEventFilter replaces the selected event ids. Duplicates collapse.
func (s *State) SetEventFilter(ctx context.Context, ids []int64) {
	s.mu.Lock()
	s.eventIDs = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.eventIDs[id] = struct{}{}
	}
	s.mu.Unlock()
	s.persistFilter(ctx)
}

// HandleEventDeleted drops a deleted event from the filter set so the
// selection never references an event that no longer exists.
func (s *State) HandleEventDeleted(ctx context.Context, eventID int64) {
	s.mu.Lock()
	_, ok := s.eventIDs[eventID]
	delete(s.eventIDs, eventID)
	s.mu.Unlock()

	if ok {
		s.persistFilter(ctx)
	}
}

// HandleEventsCleared empties the filter set.
func (s *State) HandleEventsCleared(ctx context.Context) {
	s.mu.Lock()
	empty := len(s.eventIDs) == 0
	s.eventIDs = make(map[int64]struct{})
	s.mu.Unlock()

	if !empty {
		s.persistFilter(ctx)
	}
}

// ServiceTab returns the selected game-service tab, empty when unset.
func (s *State) ServiceTab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

// SetServiceTab records the selected game-service tab.
func (s *State) SetServiceTab(ctx context.Context, tab string) {
	s.mu.Lock()
	s.tab = tab
	s.mu.Unlock()

	if err := store.SetJSON(ctx, s.store, cnst.StoreKeyServiceTab, tab); err != nil {
		s.logger.Warn("persist service tab", zap.Error(err))
	}
}

// Restore loads both selections. A missing or corrupt entry reads as absent.
func (s *State) Restore(ctx context.Context) error {
	var ids []int64
	found, err := store.GetJSON(ctx, s.store, cnst.StoreKeyEventFilter, &ids)
	if err != nil {
		return err
	}
	if found {
		s.mu.Lock()
		s.eventIDs = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			s.eventIDs[id] = struct{}{}
		}
		s.mu.Unlock()
	}

	var tab string
	found, err = store.GetJSON(ctx, s.store, cnst.StoreKeyServiceTab, &tab)
	if err != nil {
		return err
	}
	if found {
		s.mu.Lock()
		s.tab = tab
		s.mu.Unlock()
	}
	return nil
}

func (s *State) persistFilter(ctx context.Context) {
	ids := s.EventFilter()
	if err := store.SetJSON(ctx, s.store, cnst.StoreKeyEventFilter, ids); err != nil {
		s.logger.Warn("persist event filter", zap.Error(err))
	}
}
