// Package engine composes the sync components: one push channel at the
// bottom, the fetch coordinator above it, and every consumer subscribed on
// top, reconciled against the REST API on start and after each reconnect.
package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/api"
	"github.com/lancachetools/lansync/internal/assoc"
	"github.com/lancachetools/lansync/internal/channel"
	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/lancachetools/lansync/internal/common/config"
	"github.com/lancachetools/lansync/internal/events"
	"github.com/lancachetools/lansync/internal/fetch"
	"github.com/lancachetools/lansync/internal/notify"
	"github.com/lancachetools/lansync/internal/poll"
	"github.com/lancachetools/lansync/internal/prefs"
	"github.com/lancachetools/lansync/internal/restapi"
	"github.com/lancachetools/lansync/internal/store"
	"github.com/lancachetools/lansync/internal/timefilter"
	"github.com/lancachetools/lansync/internal/tracker"
	"github.com/lancachetools/lansync/internal/uistate"
	"github.com/lancachetools/lansync/pkg/metrics"
)

// Engine owns every long-lived component and their subscriptions.
type Engine struct {
	logger    *zap.Logger
	cfg       *config.Config
	sessionID string

	store     store.Store
	client    *restapi.Client
	channel   *channel.Manager
	coord     *fetch.Coordinator
	scheduler *poll.Scheduler
	trackers  *tracker.Set
	assoc     *assoc.Cache
	prefs     *prefs.Synchronizer
	filter    *timefilter.Filter
	uistate   *uistate.State
	notify    *notify.Aggregator
	metrics   *metrics.Metrics
	server    *api.Server

	subs []*channel.Subscription
}

// New builds the engine. Construction order follows the dependency shape:
// the channel and REST client first, the coordinator over the client, then
// each consumer over both, so nothing ever reaches back down the stack.
func New(logger *zap.Logger, cfg *config.Config) (*Engine, error) {
	st, err := store.NewStore(logger, &cfg.Store)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	client := restapi.NewClient(logger, restapi.Options{
		BaseURL:     cfg.Server.BaseURL,
		APIKey:      cfg.Server.APIKey,
		Timeout:     cfg.Fetch.Timeout,
		BulkTimeout: cfg.Fetch.BulkTimeout,
	})

	header := http.Header{}
	if cfg.Server.APIKey != "" {
		header.Set("X-Api-Key", cfg.Server.APIKey)
	}
	ch := channel.NewManager(logger, channel.Options{
		URL:              hubURL(cfg.Server.BaseURL, cfg.Server.HubPath),
		Header:           header,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		PingInterval:     cfg.Channel.PingInterval,
		Metrics:          m,
	})

	e := &Engine{
		logger:    logger.Named("engine"),
		cfg:       cfg,
		sessionID: uuid.NewString(),
		store:     st,
		client:    client,
		channel:   ch,
		metrics:   m,
	}

	e.trackers = tracker.NewSet(logger, st, tracker.Options{
		DismissAfter: cfg.Tracker.DismissAfter,
		Pinned:       cfg.Tracker.Pinned,
		Metrics:      m,
		OnTransition: e.onTrackerTransition,
	})
	e.coord = fetch.NewCoordinator(logger, fetch.Options{
		MinInterval: cfg.Fetch.MinInterval,
		Timeout:     cfg.Fetch.Timeout,
		BulkTimeout: cfg.Fetch.BulkTimeout,
		BulkRunning: e.trackers.AnyBulkRunning,
		Metrics:     m,
	})
	e.scheduler = poll.NewScheduler(logger, cfg.Polling.Fast, cfg.Polling.Medium, cfg.Polling.Slow)
	e.assoc = assoc.NewCache(logger, client, assoc.Options{})
	e.prefs = prefs.NewSynchronizer(logger, client, e.sessionID, prefs.Options{
		Cooldown: cfg.Prefs.OptimisticCooldown,
	})
	e.filter = timefilter.NewFilter(logger, st)
	e.uistate = uistate.NewState(logger, st)
	e.notify = notify.NewAggregator(logger, e.trackers, notify.Options{
		ToastAfter: cfg.Tracker.ToastAfter,
		Pinned:     cfg.Tracker.Pinned,
	})
	e.server = api.NewServer(logger, api.Deps{
		Channel:       ch,
		Notifications: e.notify,
		Associations:  e.assoc,
		Preferences:   e.prefs,
		TimeFilter:    e.filter,
		UIState:       e.uistate,
		Metrics:       m,
	})

	e.subscribe()
	e.registerPolls()
	return e, nil
}

// SessionID is the identity used for preference scoping.
func (e *Engine) SessionID() string { return e.sessionID }

// Run starts everything and blocks until ctx ends, then shuts down in
// reverse order.
func (e *Engine) Run(ctx context.Context) error {
	e.trackers.RestoreAll(ctx)
	if err := e.filter.Restore(ctx); err != nil {
		e.logger.Warn("restore time filter", zap.Error(err))
	}
	if err := e.uistate.Restore(ctx); err != nil {
		e.logger.Warn("restore view selections", zap.Error(err))
	}
	e.recover(ctx)

	e.channel.Connect(ctx)
	e.scheduler.Start(ctx)
	go e.notify.Run(ctx)

	srv := &http.Server{
		Addr:    e.cfg.Listen.Addr,
		Handler: e.server.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("snapshot api listening", zap.String("addr", e.cfg.Listen.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		e.shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	e.shutdown()
	return nil
}

func (e *Engine) shutdown() {
	e.scheduler.Stop()
	e.channel.Disconnect()
	for _, sub := range e.subs {
		sub.Cancel()
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close store", zap.Error(err))
	}
}

// subscribe wires every consumer onto the channel. Job lifecycle events all
// land on the tracker set; the rest go to their owning component.
func (e *Engine) subscribe() {
	on := func(event string, h channel.Handler) {
		e.subs = append(e.subs, e.channel.On(event, h))
	}

	for _, name := range events.JobEventNames() {
		event := name
		on(event, func(payload []byte) {
			e.trackers.HandleEvent(context.Background(), event, payload)
		})
	}

	on(cnst.EventDownloadsRefresh, func([]byte) {
		e.filter.HandleDownloadsRefresh()
		e.assoc.HandleDownloadsRefresh()
		e.coord.Trigger(context.Background(), opDownloads, false, e.fetchDownloads)
	})

	on(cnst.EventEventDeleted, func(payload []byte) {
		ev := events.DecodeEntityEvent(payload)
		e.assoc.HandleEventDeleted(ev)
		e.uistate.HandleEventDeleted(context.Background(), ev.EventID)
	})
	on(cnst.EventEventUpdated, func(payload []byte) {
		e.assoc.HandleEventUpdated(events.DecodeEntityEvent(payload))
	})
	on(cnst.EventEventCreated, func([]byte) {
		e.assoc.HandleDownloadsRefresh()
	})
	on(cnst.EventEventsCleared, func([]byte) {
		e.assoc.HandleDownloadsRefresh()
		e.uistate.HandleEventsCleared(context.Background())
	})
	on(cnst.EventDownloadTagged, func(payload []byte) {
		e.assoc.HandleDownloadTagged(events.DecodeEntityEvent(payload).DownloadID)
	})

	on(cnst.EventUserPreferencesUpdated, func(payload []byte) {
		e.prefs.HandleUpdated(events.DecodePreferencesUpdated(payload))
	})
	on(cnst.EventUserPreferencesReset, func([]byte) {
		if err := e.prefs.Refresh(context.Background()); err != nil {
			e.logger.Warn("preferences refresh", zap.Error(err))
		}
	})

	on(cnst.EventSteamSessionError, func(payload []byte) {
		ev := events.DecodeSteamSession(payload)
		e.notify.Push(notify.LevelError, toastMessage(ev, "Steam session error"))
	})
	on(cnst.EventSteamAutoLogout, func(payload []byte) {
		ev := events.DecodeSteamSession(payload)
		e.notify.Push(notify.LevelWarning, toastMessage(ev, "Steam session logged out"))
	})

	retune := func(payload []byte) {
		ev := events.DecodePollingRate(payload)
		if ev.SessionID != "" && ev.SessionID != e.sessionID {
			return
		}
		if ev.IntervalSeconds <= 0 {
			return
		}
		d := time.Duration(ev.IntervalSeconds) * time.Second
		e.scheduler.SetInterval(poll.TierFast, d)
		e.coord.SetMinInterval(opDownloads, fetch.DeriveMinInterval(d))
		if err := store.SetJSON(context.Background(), e.store, cnst.StoreKeyPollingRate, ev.IntervalSeconds); err != nil {
			e.logger.Warn("persist polling rate", zap.Error(err))
		}
	}
	on(cnst.EventGuestPollingRateUpdated, retune)
	on(cnst.EventDefaultGuestPollingRateChanged, retune)

	on(cnst.EventGuestDurationUpdated, func(payload []byte) {
		ev := events.DecodeSteamSession(payload)
		if ev.Message != "" {
			e.notify.Push(notify.LevelInfo, ev.Message)
		}
	})

	e.channel.OnStateChange(func(s channel.ConnState) {
		if s == channel.StateConnected {
			// A reconnect may have missed terminal events.
			go e.recover(context.Background())
		}
	})
}

// recover reconciles every tracker and the preference set with the server,
// on startup and again after each reconnect.
func (e *Engine) recover(ctx context.Context) {
	e.trackers.RecoverAll(ctx, e.client)
	if err := e.prefs.Refresh(ctx); err != nil {
		e.logger.Warn("preferences refresh", zap.Error(err))
	}
	var rate int
	if found, err := store.GetJSON(ctx, e.store, cnst.StoreKeyPollingRate, &rate); err == nil && found && rate > 0 {
		e.scheduler.SetInterval(poll.TierFast, time.Duration(rate)*time.Second)
	}
}

// onTrackerTransition couples bulk-job activity to the REST client timeout.
func (e *Engine) onTrackerTransition(tracker.Notification) {
	e.client.SetBulkRunning(e.trackers.AnyBulkRunning())
}

func hubURL(baseURL, hubPath string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + hubPath
}

func toastMessage(ev events.SteamSession, fallback string) string {
	if ev.Message != "" {
		return ev.Message
	}
	if ev.Reason != "" {
		return fallback + ": " + ev.Reason
	}
	return fallback
}
