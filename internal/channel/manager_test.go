package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// hubServer is a minimal websocket hub for exercising the manager.
type hubServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newHubServer(t *testing.T) *hubServer {
	t.Helper()
	h := &hubServer{}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		// drain client frames so pings are answered
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hubServer) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *hubServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": event, "payload": payload})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		conns := append([]*websocket.Conn(nil), h.conns...)
		h.mu.Unlock()
		if len(conns) > 0 {
			require.NoError(t, conns[len(conns)-1].WriteMessage(websocket.TextMessage, data))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no hub connection to push to")
}

func (h *hubServer) closeConns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		_ = c.Close()
	}
	h.conns = nil
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop(), Options{
		URL:     url,
		backoff: func(int) time.Duration { return 0 },
	})
	t.Cleanup(m.Disconnect)
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		0,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for failures, exp := range want {
		assert.Equal(t, exp, backoffDelay(failures), "failures=%d", failures)
	}
	assert.Equal(t, time.Duration(0), backoffDelay(-1))
}

func TestDispatchToRegisteredHandlers(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	var mu sync.Mutex
	var got []string
	m.On("DownloadsRefresh", func(payload []byte) {
		mu.Lock()
		got = append(got, "a:"+string(payload))
		mu.Unlock()
	})
	m.On("DownloadsRefresh", func(payload []byte) {
		mu.Lock()
		got = append(got, "b:"+string(payload))
		mu.Unlock()
	})

	m.Connect(context.Background())
	waitFor(t, m.IsConnected, "never connected")

	hub.push(t, "DownloadsRefresh", map[string]any{"count": 3})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "both handlers should receive the event")

	mu.Lock()
	defer mu.Unlock()
	for _, s := range got {
		assert.Contains(t, s, `"count":3`)
	}
}

func TestCancelledSubscriptionNeverInvoked(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	var mu sync.Mutex
	removedCalls, keptCalls := 0, 0

	sub := m.On("EventDeleted", func([]byte) {
		mu.Lock()
		removedCalls++
		mu.Unlock()
	})
	m.On("EventDeleted", func([]byte) {
		mu.Lock()
		keptCalls++
		mu.Unlock()
	})

	sub.Cancel()
	sub.Cancel() // double cancel is safe

	m.Connect(context.Background())
	waitFor(t, m.IsConnected, "never connected")

	hub.push(t, "EventDeleted", map[string]any{"eventId": 7})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return keptCalls == 1
	}, "kept handler should fire")

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, removedCalls, "cancelled handler must never be invoked")
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	var mu sync.Mutex
	delivered := 0
	m.On("ProcessingProgress", func([]byte) { panic("boom") })
	m.On("ProcessingProgress", func([]byte) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	m.Connect(context.Background())
	waitFor(t, m.IsConnected, "never connected")

	hub.push(t, "ProcessingProgress", map[string]any{"percentComplete": 10})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, "second handler should still receive the event")
}

func TestReconnectAfterServerClose(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	var mu sync.Mutex
	var states []ConnState
	m.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect(context.Background())
	waitFor(t, m.IsConnected, "never connected")

	hub.closeConns()

	// drops to reconnecting, then back to connected
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		reconnected := false
		for i, s := range states {
			if s == StateReconnecting && i < len(states)-1 && states[i+1] == StateConnected {
				reconnected = true
			}
		}
		return reconnected
	}, "manager should reconnect after server-side close")

	assert.True(t, m.IsConnected())
}

func TestStateInvariant(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())

	m.Connect(context.Background())
	waitFor(t, m.IsConnected, "never connected")
	assert.Equal(t, StateConnected, m.State())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
}

func TestConnectIsReentrancyGuarded(t *testing.T) {
	hub := newHubServer(t)
	m := newTestManager(t, hub.url())

	// strict-mode style double invocation
	m.Connect(context.Background())
	m.Connect(context.Background())

	waitFor(t, m.IsConnected, "never connected")
	time.Sleep(50 * time.Millisecond)

	hub.mu.Lock()
	n := len(hub.conns)
	hub.mu.Unlock()
	assert.Equal(t, 1, n, "double Connect must not open a second transport")
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	// no server listening: the manager stays in its retry loop
	m := NewManager(zap.NewNop(), Options{
		URL:     "ws://127.0.0.1:1/hub",
		backoff: func(int) time.Duration { return 10 * time.Millisecond },
	})

	m.Connect(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.NotEqual(t, StateConnected, m.State())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	// state should stay put once disconnected
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}
