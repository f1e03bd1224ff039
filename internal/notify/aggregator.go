// Package notify merges operation trackers and ad hoc toasts into one
// ordered notification surface with a shared dismissal policy.
package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/tracker"
)

// Level classifies a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is a one-shot message with no backing job.
type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Item is one entry on the merged surface: either a toast or an operation.
type Item struct {
	ID        string                `json:"id"`
	Source    string                `json:"source"` // "operation" or "toast"
	Level     Level                 `json:"level,omitempty"`
	Message   string                `json:"message"`
	StartedAt time.Time             `json:"startedAt"`
	Operation *tracker.Notification `json:"operation,omitempty"`
}

// Options configures an Aggregator.
type Options struct {
	ToastAfter    time.Duration // toast lifetime, default 5s
	SweepInterval time.Duration // dismissal scan period, default 1s
	Pinned        bool          // keep everything until dismissed manually

	now func() time.Time // test override
}

// Aggregator is the single ordered notification list.
type Aggregator struct {
	logger   *zap.Logger
	trackers *tracker.Set
	opts     Options

	mu     sync.Mutex
	toasts map[string]Toast
}

// NewAggregator creates an aggregator over a tracker set.
func NewAggregator(logger *zap.Logger, trackers *tracker.Set, opts Options) *Aggregator {
	if opts.ToastAfter <= 0 {
		opts.ToastAfter = 5 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Aggregator{
		logger:   logger.Named("notify"),
		trackers: trackers,
		opts:     opts,
		toasts:   make(map[string]Toast),
	}
}

// Push adds a toast and returns its id.
func (a *Aggregator) Push(level Level, message string) string {
	t := Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: a.opts.now(),
	}
	a.mu.Lock()
	a.toasts[t.ID] = t
	a.mu.Unlock()

	a.logger.Debug("toast pushed", zap.String("level", string(level)))
	return t.ID
}

// Dismiss removes one item, toast or operation.
func (a *Aggregator) Dismiss(ctx context.Context, id string) {
	a.mu.Lock()
	if _, ok := a.toasts[id]; ok {
		delete(a.toasts, id)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	// Operation ids are the job kind, optionally suffixed with an entity.
	kind := cnst.JobKind(id)
	if i := strings.IndexByte(id, ':'); i >= 0 {
		kind = cnst.JobKind(id[:i])
	}
	if t := a.trackers.Tracker(kind); t != nil {
		t.Dismiss(ctx, id)
	}
}

// Items returns the merged surface ordered by start time.
func (a *Aggregator) Items() []Item {
	out := make([]Item, 0)
	for _, n := range a.trackers.Notifications() {
		op := n
		out = append(out, Item{
			ID:        n.ID,
			Source:    "operation",
			Message:   n.Message,
			StartedAt: n.StartedAt,
			Operation: &op,
		})
	}

	a.mu.Lock()
	for _, t := range a.toasts {
		out = append(out, Item{
			ID:        t.ID,
			Source:    "toast",
			Level:     t.Level,
			Message:   t.Message,
			StartedAt: t.CreatedAt,
		})
	}
	a.mu.Unlock()

	// Tie break on id: toasts come out of a map, so equal timestamps would
	// otherwise flicker between reads.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Run sweeps expired items until the context ends.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := a.opts.now()
			a.sweepToasts(now)
			a.trackers.SweepAll(ctx, now)
		}
	}
}

// sweepToasts drops toasts past their lifetime. Pinned mode keeps them.
func (a *Aggregator) sweepToasts(now time.Time) {
	if a.opts.Pinned {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.toasts {
		if now.Sub(t.CreatedAt) >= a.opts.ToastAfter {
			delete(a.toasts, id)
		}
	}
}
