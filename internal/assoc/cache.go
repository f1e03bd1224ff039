// Package assoc caches the tag/event associations derived for each download
// record, populated lazily in batches and invalidated by push events.
package assoc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/events"
	"github.com/lancachetools/lansync/internal/restapi"
)

// Client is the slice of the REST client the cache fetches through.
type Client interface {
	Associations(ctx context.Context, ids []int64) (map[int64]restapi.Association, error)
}

// Options configures a Cache.
type Options struct {
	ClearDebounce time.Duration // min gap between full clears, default 500ms

	now func() time.Time // test override
}

// Cache maps download ids to their association sets. Reads never fail;
// unknown ids yield an empty association.
type Cache struct {
	logger *zap.Logger
	client Client
	opts   Options

	mu        sync.Mutex
	entries   map[int64]restapi.Association
	fetched   map[int64]struct{}
	lastClear time.Time
	version   uint64
}

// NewCache creates an empty association cache.
func NewCache(logger *zap.Logger, client Client, opts Options) *Cache {
	if opts.ClearDebounce <= 0 {
		opts.ClearDebounce = 500 * time.Millisecond
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Cache{
		logger:  logger.Named("assoc"),
		client:  client,
		opts:    opts,
		entries: make(map[int64]restapi.Association),
		fetched: make(map[int64]struct{}),
	}
}

// Fetch populates associations for any ids not fetched yet, batched into one
// request. Already-known ids are skipped; with nothing new it is a no-op.
func (c *Cache) Fetch(ctx context.Context, ids []int64) error {
	c.mu.Lock()
	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.fetched[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	got, err := c.client.Associations(ctx, missing)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for id, a := range got {
		c.entries[id] = a
	}
	// Ids absent from the response stay fetched too: the server has nothing
	// for them and asking again every access would be a re-fetch storm.
	for _, id := range missing {
		c.fetched[id] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// Get returns the association set for one download. Unknown ids return an
// empty but valid structure.
func (c *Cache) Get(id int64) restapi.Association {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.entries[id]
	if !ok {
		return restapi.Association{Tags: []string{}, Events: []restapi.AssocEvent{}}
	}
	out := restapi.Association{
		Tags:   append([]string{}, a.Tags...),
		Events: append([]restapi.AssocEvent{}, a.Events...),
	}
	return out
}

// Version returns a counter bumped on targeted invalidations, for consumers
// that need a cheap change signal.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// HandleEventDeleted removes the deleted event from every cached entry.
// Tags are untouched.
func (c *Cache) HandleEventDeleted(ev events.EntityEvent) {
	if ev.EventID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range c.entries {
		kept := a.Events[:0:0]
		for _, e := range a.Events {
			if e.ID != ev.EventID {
				kept = append(kept, e)
			}
		}
		if len(kept) != len(a.Events) {
			a.Events = kept
			c.entries[id] = a
		}
	}
}

// HandleEventUpdated patches the renamed event wherever it is cached.
func (c *Cache) HandleEventUpdated(ev events.EntityEvent) {
	if ev.EventID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range c.entries {
		changed := false
		for i := range a.Events {
			if a.Events[i].ID == ev.EventID {
				a.Events[i].Name = ev.Name
				changed = true
			}
		}
		if changed {
			c.entries[id] = a
		}
	}
}

// HandleDownloadsRefresh clears the fetched set so the next access re-fetches,
// debounced so an event storm cannot thrash the cache.
func (c *Cache) HandleDownloadsRefresh() {
	now := c.opts.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastClear.IsZero() && now.Sub(c.lastClear) < c.opts.ClearDebounce {
		return
	}
	c.lastClear = now
	c.fetched = make(map[int64]struct{})
	c.logger.Debug("fetched set cleared")
}

// HandleDownloadTagged evicts one download and bumps the change counter.
func (c *Cache) HandleDownloadTagged(downloadID int64) {
	if downloadID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, downloadID)
	delete(c.fetched, downloadID)
	c.version++
}
