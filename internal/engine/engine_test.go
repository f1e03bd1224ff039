package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/config"
	"github.com/lancachetools/lansync/internal/events"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://lancache.lan:8080"
	cfg.Server.HubPath = "/hubs/downloads"
	cfg.Store.Type = "memory"
	return cfg
}

func TestNewWiresEverySubscription(t *testing.T) {
	e, err := New(zap.NewNop(), testConfig())
	require.NoError(t, err)
	defer func() { _ = e.store.Close() }()

	assert.NotEmpty(t, e.SessionID())
	// Every job lifecycle event plus the non-job consumers.
	assert.Greater(t, len(e.subs), len(events.JobEventNames()))
}

func TestHubURL(t *testing.T) {
	assert.Equal(t, "ws://lancache.lan:8080/hubs/downloads",
		hubURL("http://lancache.lan:8080", "/hubs/downloads"))
	assert.Equal(t, "wss://lancache.lan/hubs/downloads",
		hubURL("https://lancache.lan/", "/hubs/downloads"))
}

func TestToastMessage(t *testing.T) {
	assert.Equal(t, "boom",
		toastMessage(events.SteamSession{Message: "boom"}, "fallback"))
	assert.Equal(t, "fallback: expired",
		toastMessage(events.SteamSession{Reason: "expired"}, "fallback"))
	assert.Equal(t, "fallback",
		toastMessage(events.SteamSession{}, "fallback"))
}
