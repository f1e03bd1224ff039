// Package timefilter computes the dashboard's time window. Rolling ranges
// anchor "now" at selection time and re-anchor when new data arrives, so the
// window advances on data, not on every read.
package timefilter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/store"
)

// Range identifies a time window selection.
type Range string

const (
	RangeLive   Range = "live"
	Range1h     Range = "1h"
	Range6h     Range = "6h"
	Range12h    Range = "12h"
	Range24h    Range = "24h"
	Range7d     Range = "7d"
	Range30d    Range = "30d"
	RangeCustom Range = "custom"
)

// rollingDurations maps each rolling range to its width. Live and custom
// carry no anchor.
var rollingDurations = map[Range]time.Duration{
	Range1h:  time.Hour,
	Range6h:  6 * time.Hour,
	Range12h: 12 * time.Hour,
	Range24h: 24 * time.Hour,
	Range7d:  7 * 24 * time.Hour,
	Range30d: 30 * 24 * time.Hour,
}

// Rolling reports whether the range is anchored.
func (r Range) Rolling() bool {
	_, ok := rollingDurations[r]
	return ok
}

// Params is the resolved window. Zero Start and End means unbounded (live).
type Params struct {
	Range Range     `json:"range"`
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// selection is the persisted shape.
type selection struct {
	Range       Range     `json:"range"`
	Anchor      time.Time `json:"anchor,omitzero"`
	CustomStart time.Time `json:"customStart,omitzero"`
	CustomEnd   time.Time `json:"customEnd,omitzero"`
}

// Filter holds the current time window selection.
type Filter struct {
	logger *zap.Logger
	store  store.Store
	now    func() time.Time

	mu  sync.Mutex
	sel selection
}

// NewFilter creates a filter defaulting to the live range.
func NewFilter(logger *zap.Logger, st store.Store) *Filter {
	return &Filter{
		logger: logger.Named("timefilter"),
		store:  st,
		now:    time.Now,
		sel:    selection{Range: RangeLive},
	}
}

// Select switches to a named range. Rolling ranges anchor at the selection
// instant. Selecting RangeCustom here is invalid; use SelectCustom.
func (f *Filter) Select(ctx context.Context, r Range) {
	f.mu.Lock()
	f.sel = selection{Range: r}
	if r.Rolling() {
		f.sel.Anchor = f.now()
	}
	f.mu.Unlock()
	f.persist(ctx)
}

// SelectCustom switches to an explicit window.
func (f *Filter) SelectCustom(ctx context.Context, start, end time.Time) {
	f.mu.Lock()
	f.sel = selection{Range: RangeCustom, CustomStart: start, CustomEnd: end}
	f.mu.Unlock()
	f.persist(ctx)
}

// HandleDownloadsRefresh re-anchors a rolling range to the current instant,
// advancing the window to cover the data that just arrived.
func (f *Filter) HandleDownloadsRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sel.Range.Rolling() {
		f.sel.Anchor = f.now()
	}
}

// Params resolves the current window. Repeated calls return the same window
// until a selection or a refresh push moves the anchor.
func (f *Filter) Params() Params {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.sel.Range == RangeCustom:
		return Params{Range: RangeCustom, Start: f.sel.CustomStart, End: f.sel.CustomEnd}
	case f.sel.Range.Rolling():
		return Params{
			Range: f.sel.Range,
			Start: f.sel.Anchor.Add(-rollingDurations[f.sel.Range]),
			End:   f.sel.Anchor,
		}
	default:
		return Params{Range: RangeLive}
	}
}

// Restore loads the persisted selection. A rolling range re-anchors to now
// rather than trusting a stale anchor from before the restart.
func (f *Filter) Restore(ctx context.Context) error {
	var sel selection
	found, err := store.GetJSON(ctx, f.store, cnst.StoreKeyTimeFilter, &sel)
	if err != nil || !found {
		return err
	}

	f.mu.Lock()
	f.sel = sel
	if sel.Range.Rolling() {
		f.sel.Anchor = f.now()
	}
	f.mu.Unlock()
	return nil
}

func (f *Filter) persist(ctx context.Context) {
	f.mu.Lock()
	sel := f.sel
	f.mu.Unlock()

	if err := store.SetJSON(ctx, f.store, cnst.StoreKeyTimeFilter, sel); err != nil {
		f.logger.Warn("persist time filter", zap.Error(err))
	}
}
