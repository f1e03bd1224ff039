package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/fetch"
	"github.com/lancachetools/lansync/internal/poll"
	"github.com/lancachetools/lansync/internal/restapi"
	"github.com/lancachetools/lansync/internal/tracker"
)

// Logical fetch operation names, shared between poll tasks and push-driven
// triggers so both debounce against the same window.
const (
	opDownloads   = "downloads"
	opJobStatus   = "jobstatus"
	opPreferences = "preferences"
)

// registerPolls wires the tiered refresh tasks. Every task runs through the
// fetch coordinator, so a poll tick landing right after a push-driven
// refresh collapses into nothing.
func (e *Engine) registerPolls() {
	e.coord.SetMinInterval(opDownloads, fetch.DeriveMinInterval(e.cfg.Polling.Fast))
	e.coord.SetMinInterval(opJobStatus, fetch.DeriveMinInterval(e.cfg.Polling.Medium))
	e.coord.SetMinInterval(opPreferences, fetch.DeriveMinInterval(e.cfg.Polling.Slow))

	e.scheduler.Register(poll.TierFast, poll.Task{
		Name: opDownloads,
		Run: func(ctx context.Context) {
			e.coord.Trigger(ctx, opDownloads, false, e.fetchDownloads)
		},
	})
	e.scheduler.Register(poll.TierMedium, poll.Task{
		Name: opJobStatus,
		Run: func(ctx context.Context) {
			e.coord.Trigger(ctx, opJobStatus, false, e.fetchActiveJobStatuses)
		},
	})
	e.scheduler.Register(poll.TierSlow, poll.Task{
		Name: opPreferences,
		Run: func(ctx context.Context) {
			e.coord.Trigger(ctx, opPreferences, false, e.prefs.Refresh)
		},
	})
}

// fetchDownloads pulls the latest download records and warms the association
// cache for them in one batch.
func (e *Engine) fetchDownloads(ctx context.Context) error {
	downloads, err := e.client.LatestDownloads(ctx)
	if err != nil {
		return err
	}
	if len(downloads) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(downloads))
	for _, d := range downloads {
		ids = append(ids, d.ID)
	}
	return e.assoc.Fetch(ctx, ids)
}

// fetchActiveJobStatuses re-polls the status endpoint for every kind with a
// running entry, catching progress events the channel dropped. The statuses
// settle independently; one unreachable endpoint does not block the rest.
func (e *Engine) fetchActiveJobStatuses(ctx context.Context) error {
	parts := make(map[string]fetch.Func)
	for _, kind := range cnst.AllJobKinds {
		t := e.trackers.Tracker(kind)
		if !t.Running() {
			continue
		}
		parts[string(kind)] = func(ctx context.Context) error {
			return t.Recover(ctx, e.client)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	errs := fetch.SettleAll(ctx, parts)
	if fetch.AllFailed(errs) {
		var joined []error
		for name, err := range errs {
			joined = append(joined, fmt.Errorf("%s: %w", name, err))
		}
		return errors.Join(joined...)
	}
	for name, err := range errs {
		if err != nil {
			e.logger.Debug("job status poll failed", zap.String("kind", name), zap.Error(err))
		}
	}
	return nil
}

var _ tracker.StatusClient = (*restapi.Client)(nil)
