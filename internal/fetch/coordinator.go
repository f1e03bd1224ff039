// Package fetch wraps remote reads with debouncing, cancellation of
// superseded requests and per-operation timeouts, so event storms and
// overlapping poll ticks collapse into a bounded number of network calls.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lancachetools/lansync/pkg/metrics"
	"go.uber.org/zap"
)

// Func performs one remote read bound to ctx. Implementations apply their
// own results; the coordinator only sequences them.
type Func func(ctx context.Context) error

// Options configures a Coordinator.
type Options struct {
	// MinInterval is the default debounce window. Default 250ms.
	MinInterval time.Duration
	// Timeout bounds each fetch. Default 10s.
	Timeout time.Duration
	// BulkTimeout replaces Timeout while BulkRunning reports true. Default 30s.
	BulkTimeout time.Duration
	// BulkRunning reports whether a bulk server-side job is in flight. May be nil.
	BulkRunning func() bool
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

type operation struct {
	minInterval time.Duration
	lastFetch   time.Time
	inFlight    bool
	cancel      context.CancelFunc
	everLoaded  bool
	lastErr     error
}

// Coordinator sequences fetches per logical operation name.
type Coordinator struct {
	logger *zap.Logger
	opts   Options

	mu  sync.Mutex
	ops map[string]*operation
}

// NewCoordinator creates a fetch coordinator.
func NewCoordinator(logger *zap.Logger, opts Options) *Coordinator {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 250 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BulkTimeout <= 0 {
		opts.BulkTimeout = 30 * time.Second
	}
	return &Coordinator{
		logger: logger.Named("fetch"),
		opts:   opts,
		ops:    make(map[string]*operation),
	}
}

// DeriveMinInterval computes the debounce window for a polled data class:
// a quarter of the polling interval, never below one second.
func DeriveMinInterval(pollInterval time.Duration) time.Duration {
	d := pollInterval / 4
	if d < time.Second {
		return time.Second
	}
	return d
}

// SetMinInterval overrides the debounce window for one operation.
func (c *Coordinator) SetMinInterval(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op(name).minInterval = d
}

// Trigger requests a fetch for the named operation. It returns true when a
// fetch was actually started. Skips are silent: an in-flight fetch absorbs
// non-initial triggers, and triggers inside the debounce window are dropped.
// An initial trigger supersedes any outstanding request by cancelling it.
func (c *Coordinator) Trigger(ctx context.Context, name string, initial bool, fn Func) bool {
	c.mu.Lock()
	op := c.op(name)
	now := time.Now()

	if op.inFlight && !initial {
		c.mu.Unlock()
		c.opts.Metrics.IncFetchSkipped(name, "inflight")
		return false
	}
	if !op.lastFetch.IsZero() && now.Sub(op.lastFetch) < op.minInterval {
		c.mu.Unlock()
		c.opts.Metrics.IncFetchSkipped(name, "debounce")
		return false
	}

	// supersede any outstanding request
	if op.cancel != nil {
		op.cancel()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout())
	op.cancel = cancel
	op.inFlight = true
	op.lastFetch = now
	c.mu.Unlock()

	go func() {
		start := time.Now()
		err := fn(fetchCtx)
		cancel()
		c.opts.Metrics.ObserveFetchDuration(name, time.Since(start).Seconds())
		c.settle(name, err)
	}()
	return true
}

// Err returns the surfaced error for an operation. Only first-load failures
// surface; once a fetch has succeeded, later failures are swallowed and
// retried on the next cycle.
func (c *Coordinator) Err(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op(name).lastErr
}

// EverLoaded reports whether the operation has ever completed successfully.
func (c *Coordinator) EverLoaded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op(name).everLoaded
}

// caller must hold c.mu
func (c *Coordinator) op(name string) *operation {
	op, ok := c.ops[name]
	if !ok {
		op = &operation{minInterval: c.opts.MinInterval}
		c.ops[name] = op
	}
	return op
}

func (c *Coordinator) timeout() time.Duration {
	if c.opts.BulkRunning != nil && c.opts.BulkRunning() {
		return c.opts.BulkTimeout
	}
	return c.opts.Timeout
}

func (c *Coordinator) settle(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.op(name)
	op.inFlight = false

	switch {
	case err == nil:
		op.everLoaded = true
		op.lastErr = nil
		c.opts.Metrics.IncFetch(name, "ok")
	case errors.Is(err, context.Canceled):
		// superseded or shutting down; not an error
		c.opts.Metrics.IncFetch(name, "cancelled")
	default:
		if op.everLoaded {
			c.logger.Debug("fetch failed after successful load, will retry",
				zap.String("operation", name),
				zap.Error(err))
		} else {
			op.lastErr = err
		}
		c.opts.Metrics.IncFetch(name, "error")
	}
}

// SettleAll runs every part and waits for all of them, tolerating partial
// failure: each part applies its own result on success, so the fields whose
// sub-requests failed simply keep their prior values. The combined error is
// non-nil only when every part failed.
func SettleAll(ctx context.Context, parts map[string]Func) map[string]error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make(map[string]error, len(parts))

	for name, part := range parts {
		wg.Add(1)
		go func(name string, part Func) {
			defer wg.Done()
			err := part(ctx)
			mu.Lock()
			errs[name] = err
			mu.Unlock()
		}(name, part)
	}
	wg.Wait()
	return errs
}

// AllFailed reports whether every settled part returned an error.
func AllFailed(errs map[string]error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}
