package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/events"
	"github.com/lancachetools/lansync/internal/restapi"
	"github.com/lancachetools/lansync/internal/store"
	"github.com/lancachetools/lansync/pkg/metrics"
)

// StatusClient is the slice of the REST client the tracker needs for
// missed-message recovery.
type StatusClient interface {
	JobStatus(ctx context.Context, kind cnst.JobKind) (*restapi.JobStatus, error)
}

// Options configures a Tracker.
type Options struct {
	DismissAfter time.Duration // terminal entries removed after this, default 10s
	Pinned       bool          // terminal entries stay until dismissed manually
	RampSteps    int           // incremental completion animation, default 30
	RampDuration time.Duration // default 1.5s
	Metrics      *metrics.Metrics
	OnTransition func(Notification) // invoked after every status change

	now func() time.Time // test override
}

// Tracker is the state machine for one job kind. At most one running entry
// exists per identity; singleton kinds have exactly one identity.
type Tracker struct {
	logger *zap.Logger
	kind   cnst.JobKind
	store  store.Store
	opts   Options

	mu      sync.Mutex
	entries map[string]*Notification
	ramping map[string]uint64 // identity -> generation, guards the ramp goroutine
	gen     uint64
}

// New creates a tracker for one job kind.
func New(logger *zap.Logger, kind cnst.JobKind, st store.Store, opts Options) *Tracker {
	if opts.DismissAfter <= 0 {
		opts.DismissAfter = 10 * time.Second
	}
	if opts.RampSteps <= 0 {
		opts.RampSteps = 30
	}
	if opts.RampDuration <= 0 {
		opts.RampDuration = 1500 * time.Millisecond
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Tracker{
		logger:  logger.Named("tracker").With(zap.String("kind", string(kind))),
		kind:    kind,
		store:   st,
		opts:    opts,
		entries: make(map[string]*Notification),
		ramping: make(map[string]uint64),
	}
}

// Kind returns the job kind this tracker owns.
func (t *Tracker) Kind() cnst.JobKind { return t.kind }

// identity collapses singleton kinds onto one key and keys parallel-capable
// kinds by their entity.
func (t *Tracker) identity(entity string) string {
	if t.kind.Singleton() || entity == "" {
		return string(t.kind)
	}
	return string(t.kind) + ":" + entity
}

// HandleStarted creates or replaces the running entry for the identity.
func (t *Tracker) HandleStarted(ctx context.Context, ev events.OperationStarted) {
	id := t.identity(ev.Entity)
	startedAt := ev.Timestamp
	if startedAt.IsZero() {
		startedAt = t.opts.now()
	}

	t.mu.Lock()
	t.gen++
	delete(t.ramping, id)
	n := &Notification{
		ID:        id,
		Kind:      t.kind,
		Status:    StatusRunning,
		Message:   ev.Message,
		StartedAt: startedAt,
	}
	t.entries[id] = n
	snapshot := n.clone()
	t.mu.Unlock()

	t.afterTransition(ctx, snapshot)
}

// HandleProgress merges a progress update into the running entry, creating
// one when the started event was missed. A terminal status in the payload is
// treated as completion, which covers kinds that never emit a complete event.
func (t *Tracker) HandleProgress(ctx context.Context, ev events.OperationProgress) {
	switch ev.Status {
	case "completed", "failed":
		t.HandleComplete(ctx, events.OperationComplete{
			OperationID: ev.OperationID,
			Entity:      ev.Entity,
			Success:     ev.Status == "completed",
			Message:     ev.Message,
			Details:     ev.Details,
		})
		return
	}

	id := t.identity(ev.Entity)

	t.mu.Lock()
	n, ok := t.entries[id]
	resurrected := ok && n.Terminal()
	if !ok || resurrected {
		n = &Notification{
			ID:        id,
			Kind:      t.kind,
			Status:    StatusRunning,
			StartedAt: t.opts.now(),
		}
		t.entries[id] = n
	}
	n.Progress = ev.PercentComplete
	if ev.Message != "" {
		n.Message = ev.Message
	}
	if ev.Status != "" {
		n.DetailMessage = ev.Status
	}
	mergeDetails(n, ev.Details)
	created := !ok || resurrected
	snapshot := n.clone()
	t.mu.Unlock()

	if created {
		t.afterTransition(ctx, snapshot)
		return
	}
	t.persist(ctx)
}

// HandleComplete marks the identity's run as finished. A cancelled run maps
// to failed with a cancelled message. Incremental kinds ramp the progress
// value to 100 before flipping status.
func (t *Tracker) HandleComplete(ctx context.Context, ev events.OperationComplete) {
	id := t.identity(ev.Entity)

	if t.kind.Incremental() && ev.Success && !ev.Cancelled {
		t.rampThenComplete(ctx, id, ev)
		return
	}
	t.finalize(ctx, id, ev)
}

func (t *Tracker) finalize(ctx context.Context, id string, ev events.OperationComplete) {
	now := t.opts.now()

	t.mu.Lock()
	t.gen++
	delete(t.ramping, id)
	n, ok := t.entries[id]
	if !ok {
		n = &Notification{
			ID:        id,
			Kind:      t.kind,
			StartedAt: now,
		}
		t.entries[id] = n
	}
	switch {
	case ev.Cancelled:
		n.Status = StatusFailed
		if ev.Message == "" {
			n.Message = "Operation cancelled"
		}
	case ev.Success:
		n.Status = StatusCompleted
		n.Progress = 100
	default:
		n.Status = StatusFailed
		n.Error = ev.Message
	}
	if ev.Message != "" {
		n.Message = ev.Message
	}
	n.CompletedAt = &now
	mergeDetails(n, ev.Details)
	snapshot := n.clone()
	t.mu.Unlock()

	t.afterTransition(ctx, snapshot)
}

// rampThenComplete animates progress to 100 across RampSteps before the
// status flips. A newer started or complete event aborts the animation.
func (t *Tracker) rampThenComplete(ctx context.Context, id string, ev events.OperationComplete) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.ramping[id] = gen
	n, ok := t.entries[id]
	if !ok {
		n = &Notification{
			ID:        id,
			Kind:      t.kind,
			Status:    StatusRunning,
			StartedAt: t.opts.now(),
		}
		t.entries[id] = n
	}
	from := n.Progress
	t.mu.Unlock()

	go func() {
		interval := t.opts.RampDuration / time.Duration(t.opts.RampSteps)
		for step := 1; step <= t.opts.RampSteps; step++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}

			t.mu.Lock()
			if t.ramping[id] != gen {
				t.mu.Unlock()
				return
			}
			if cur, ok := t.entries[id]; ok {
				cur.Progress = from + (100-from)*float64(step)/float64(t.opts.RampSteps)
			}
			t.mu.Unlock()
		}

		t.mu.Lock()
		stale := t.ramping[id] != gen
		t.mu.Unlock()
		if !stale {
			t.finalize(ctx, id, ev)
		}
	}()
}

// Recover reconciles against the server's status endpoint. A job the server
// still reports running is re-created locally. A running entry, whether in
// memory or in the durable snapshot, for a run the server reports idle means
// the terminal event was missed, so a completion is synthesized.
func (t *Tracker) Recover(ctx context.Context, client StatusClient) error {
	st, err := client.JobStatus(ctx, t.kind)
	if err != nil {
		return err
	}

	if st.IsProcessing {
		t.mu.Lock()
		id := t.identity(st.Entity)
		t.gen++
		delete(t.ramping, id)
		t.entries[id] = &Notification{
			ID:        id,
			Kind:      t.kind,
			Status:    StatusRunning,
			Progress:  st.PercentComplete,
			Message:   st.Message,
			StartedAt: t.opts.now(),
			Details:   st.Details,
		}
		snapshot := t.entries[id].clone()
		t.mu.Unlock()

		t.afterTransition(ctx, snapshot)
		return nil
	}

	// Idle on the server. Any in-memory running entry missed its terminal
	// event, so synthesize the completion it never received.
	t.mu.Lock()
	var stuck []string
	for id, n := range t.entries {
		if n.Status == StatusRunning {
			stuck = append(stuck, id)
		}
	}
	t.mu.Unlock()
	for _, id := range stuck {
		t.logger.Info("synthesizing missed completion", zap.String("id", id))
		t.finalize(ctx, id, events.OperationComplete{Success: true, Message: "Operation completed"})
	}

	if !t.kind.Persistent() {
		return nil
	}
	var persisted []Notification
	found, err := store.GetJSON(ctx, t.store, cnst.NotificationKey(t.kind), &persisted)
	if err != nil || !found {
		return err
	}
	for _, p := range persisted {
		if p.Status != StatusRunning {
			continue
		}
		t.logger.Info("synthesizing missed completion", zap.String("id", p.ID))
		t.mu.Lock()
		t.entries[p.ID] = &p
		t.mu.Unlock()
		t.finalize(ctx, p.ID, events.OperationComplete{Success: true, Message: "Operation completed"})
	}
	return t.store.Delete(ctx, cnst.NotificationKey(t.kind))
}

// Restore loads the persisted snapshot on startup. Terminal entries are
// discarded; only a run that was still in flight is worth resurrecting.
func (t *Tracker) Restore(ctx context.Context) error {
	if !t.kind.Persistent() {
		return nil
	}
	var persisted []Notification
	found, err := store.GetJSON(ctx, t.store, cnst.NotificationKey(t.kind), &persisted)
	if err != nil || !found {
		return err
	}

	t.mu.Lock()
	for i := range persisted {
		if persisted[i].Status != StatusRunning {
			continue
		}
		n := persisted[i]
		t.entries[n.ID] = &n
	}
	t.mu.Unlock()
	return nil
}

// Notifications returns a snapshot of all entries ordered by start time.
func (t *Tracker) Notifications() []Notification {
	t.mu.Lock()
	out := make([]Notification, 0, len(t.entries))
	for _, n := range t.entries {
		out = append(out, n.clone())
	}
	t.mu.Unlock()

	sortNotifications(out)
	return out
}

// sortNotifications orders by start time with the id as a tie break, so two
// entries started in the same instant keep a stable order across reads.
func sortNotifications(out []Notification) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
}

// Running reports whether any entry is currently in the running state.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.entries {
		if n.Status == StatusRunning {
			return true
		}
	}
	return false
}

// Dismiss removes one entry by id.
func (t *Tracker) Dismiss(ctx context.Context, id string) {
	t.mu.Lock()
	t.gen++
	delete(t.ramping, id)
	delete(t.entries, id)
	t.mu.Unlock()
	t.persist(ctx)
}

// Sweep removes terminal entries older than the dismiss delay. Pinned mode
// keeps them until dismissed manually.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) {
	if t.opts.Pinned {
		return
	}

	t.mu.Lock()
	removed := false
	for id, n := range t.entries {
		if n.Terminal() && n.CompletedAt != nil && now.Sub(*n.CompletedAt) >= t.opts.DismissAfter {
			delete(t.entries, id)
			removed = true
		}
	}
	t.mu.Unlock()

	if removed {
		t.persist(ctx)
	}
}

func (t *Tracker) afterTransition(ctx context.Context, n Notification) {
	if t.opts.Metrics != nil {
		t.opts.Metrics.IncTrackerTransition(string(t.kind), string(n.Status))
	}
	t.logger.Info("operation transition",
		zap.String("id", n.ID),
		zap.String("status", string(n.Status)))
	t.persist(ctx)
	if t.opts.OnTransition != nil {
		t.opts.OnTransition(n)
	}
}

// persist mirrors running entries to the durable store for persistent kinds.
// With nothing running the key is cleared so stale snapshots cannot outlive
// the run they describe.
func (t *Tracker) persist(ctx context.Context) {
	if !t.kind.Persistent() {
		return
	}

	t.mu.Lock()
	running := make([]Notification, 0, len(t.entries))
	for _, n := range t.entries {
		if n.Status == StatusRunning {
			running = append(running, n.clone())
		}
	}
	t.mu.Unlock()

	key := cnst.NotificationKey(t.kind)
	var err error
	if len(running) == 0 {
		err = t.store.Delete(ctx, key)
	} else {
		err = store.SetJSON(ctx, t.store, key, running)
	}
	if err != nil {
		t.logger.Warn("persist notification snapshot", zap.Error(err))
	}
}

func mergeDetails(n *Notification, details map[string]any) {
	if len(details) == 0 {
		return
	}
	if n.Details == nil {
		n.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		n.Details[k] = v
	}
}
