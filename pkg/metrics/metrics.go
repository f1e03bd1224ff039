package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/lancachetools/lansync/internal/common/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus registry and instruments for the sync engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connState     *prometheus.GaugeVec
	reconnects    prometheus.Counter
	eventsCnt     *prometheus.CounterVec
	handlerPanics prometheus.Counter
	fetchCnt      *prometheus.CounterVec
	fetchSkips    *prometheus.CounterVec
	fetchDur      *prometheus.HistogramVec
	trackerCnt    *prometheus.CounterVec
}

// New builds a Metrics instance from configuration.
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	connState := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "channel_connection_state"}, []string{"state"})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "channel_reconnects_total"})
	eventsCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "channel_events_dispatched_total"}, []string{"event"})
	handlerPanics := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "channel_handler_panics_total"})
	r.MustRegister(connState, reconnects, eventsCnt, handlerPanics)

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	fetchCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "fetch_total"}, []string{"operation", "outcome"})
	fetchSkips := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "fetch_skipped_total"}, []string{"operation", "reason"})
	fetchDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "fetch_duration_seconds", Buckets: buckets}, []string{"operation"})
	r.MustRegister(fetchCnt, fetchSkips, fetchDur)

	trackerCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tracker_transitions_total"}, []string{"kind", "status"})
	r.MustRegister(trackerCnt)

	return &Metrics{
		registry:      r,
		connState:     connState,
		reconnects:    reconnects,
		eventsCnt:     eventsCnt,
		handlerPanics: handlerPanics,
		fetchCnt:      fetchCnt,
		fetchSkips:    fetchSkips,
		fetchDur:      fetchDur,
		trackerCnt:    trackerCnt,
	}
}

// Handler returns a gin handler serving the registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// SetConnectionState records the current connection state as a one-hot gauge.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range []string{"disconnected", "connecting", "connected", "reconnecting"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

// IncReconnect counts one scheduled reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncEventDispatched counts one inbound push event delivered to handlers.
func (m *Metrics) IncEventDispatched(event string) {
	if m == nil {
		return
	}
	m.eventsCnt.WithLabelValues(event).Inc()
}

// IncHandlerPanic counts one recovered handler panic.
func (m *Metrics) IncHandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

// IncFetch counts one settled fetch with its outcome (ok, error, cancelled).
func (m *Metrics) IncFetch(operation, outcome string) {
	if m == nil {
		return
	}
	m.fetchCnt.WithLabelValues(operation, outcome).Inc()
}

// IncFetchSkipped counts one skipped fetch with its reason (inflight, debounce).
func (m *Metrics) IncFetchSkipped(operation, reason string) {
	if m == nil {
		return
	}
	m.fetchSkips.WithLabelValues(operation, reason).Inc()
}

// ObserveFetchDuration records how long one settled fetch took.
func (m *Metrics) ObserveFetchDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDur.WithLabelValues(operation).Observe(seconds)
}

// IncTrackerTransition counts one notification status transition.
func (m *Metrics) IncTrackerTransition(kind, status string) {
	if m == nil {
		return
	}
	m.trackerCnt.WithLabelValues(kind, status).Inc()
}
