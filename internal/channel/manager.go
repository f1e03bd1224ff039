// Package channel owns the single persistent push connection to the server
// hub and fans inbound named events out to registered handlers.
package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lancachetools/lansync/pkg/metrics"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Handler receives the raw payload of one named push event.
type Handler func(payload []byte)

// Subscription detaches a handler. Cancel is safe to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the handler from the manager's registry.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// backoffSchedule is the reconnect delay keyed by consecutive failures:
// immediate, 2s, 5s, 10s, then constant 30s.
var backoffSchedule = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

func backoffDelay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[failures]
}

// Options configures a Manager.
type Options struct {
	// URL is the websocket hub endpoint.
	URL string
	// Header is sent with the handshake (API key etc).
	Header http.Header
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration
	// PingInterval spaces keepalive pings on an established connection.
	// Default 30s.
	PingInterval time.Duration
	// Metrics may be nil.
	Metrics *metrics.Metrics

	// backoff overrides the reconnect delay function in tests.
	backoff func(failures int) time.Duration
}

// Manager owns exactly one transport connection at a time. Connection
// failures never surface as errors to subscribers; they observe State().
type Manager struct {
	logger *zap.Logger
	opts   Options

	mu        sync.Mutex
	handlers  map[string]map[uint64]Handler
	nextID    uint64
	state     ConnState
	stateFns  []func(ConnState)
	running   bool
	cancelRun context.CancelFunc
	conn      *websocket.Conn
}

// NewManager creates a push channel manager. Connect must be called to start.
func NewManager(logger *zap.Logger, opts Options) *Manager {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.backoff == nil {
		opts.backoff = backoffDelay
	}
	return &Manager{
		logger:   logger.Named("channel"),
		opts:     opts,
		handlers: make(map[string]map[uint64]Handler),
		state:    StateDisconnected,
	}
}

// On registers a handler for a named event. Multiple handlers per event are
// allowed; registration during dispatch takes effect on the next message.
func (m *Manager) On(event string, handler Handler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]Handler)
	}
	m.nextID++
	id := m.nextID
	m.handlers[event][id] = handler

	return &Subscription{cancel: func() { m.off(event, id) }}
}

func (m *Manager) off(event string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.handlers[event]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.handlers, event)
		}
	}
}

// OnStateChange registers a listener invoked on every lifecycle transition.
func (m *Manager) OnStateChange(fn func(ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFns = append(m.stateFns, fn)
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is currently connected. Invariant:
// IsConnected() == (State() == StateConnected).
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect starts the connection loop. A loop already running blocks new
// attempts, so double invocation is harmless. The loop retries indefinitely
// with backoff until ctx is cancelled or Disconnect is called.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	m.mu.Unlock()

	go m.run(runCtx)
}

// Disconnect stops the connection loop and closes the transport. Pending
// reconnect timers are cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancelRun
	conn := m.conn
	m.cancelRun = nil
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.setState(StateDisconnected)
}

func (m *Manager) run(ctx context.Context) {
	failures := 0
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		if first {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
			m.opts.Metrics.IncReconnect()
		}

		delay := m.opts.backoff(failures)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		conn, err := m.dial(ctx)
		if err != nil {
			failures++
			m.logger.Warn("connection attempt failed",
				zap.Int("consecutiveFailures", failures),
				zap.Duration("nextDelay", m.opts.backoff(failures)),
				zap.Error(err))
			first = false
			continue
		}

		failures = 0
		first = false
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		m.logger.Info("channel connected", zap.String("url", m.opts.URL))

		m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		m.logger.Warn("channel connection lost")
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, m.opts.URL, m.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// keepalive pings until the read loop exits
	go func() {
		ticker := time.NewTicker(m.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		m.dispatch(data)
	}
}

// dispatch parses one inbound frame {"type": name, "payload": {...}} and
// invokes every handler registered for that name against a snapshot of the
// registry taken under lock.
func (m *Manager) dispatch(data []byte) {
	j := gjson.ParseBytes(data)
	event := j.Get("type").String()
	if event == "" {
		m.logger.Debug("dropping unnamed frame", zap.ByteString("frame", data))
		return
	}
	payload := []byte(j.Get("payload").Raw)

	m.mu.Lock()
	set := m.handlers[event]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	m.mu.Unlock()

	m.opts.Metrics.IncEventDispatched(event)

	for _, h := range snapshot {
		m.invoke(event, h, payload)
	}
}

// invoke isolates handler panics so one failing handler cannot prevent
// delivery to the remaining handlers.
func (m *Manager) invoke(event string, h Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.opts.Metrics.IncHandlerPanic()
			m.logger.Error("handler panicked",
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	h(payload)
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	// after Disconnect, the dying run loop must not resurrect the state
	if !m.running && s != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	listeners := make([]func(ConnState), len(m.stateFns))
	copy(listeners, m.stateFns)
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(s.String())
	for _, fn := range listeners {
		fn(s)
	}
}
