package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func countingFetch(calls *atomic.Int32, err error) Func {
	return func(context.Context) error {
		calls.Add(1)
		return err
	}
}

func waitSettled(t *testing.T, c *Coordinator, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		inFlight := c.op(name).inFlight
		c.mu.Unlock()
		if !inFlight {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("fetch never settled")
}

func TestDebounceWindow(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: 250 * time.Millisecond})
	var calls atomic.Int32
	ctx := context.Background()

	// two triggers 100ms apart: one network call
	assert.True(t, c.Trigger(ctx, "downloads", false, countingFetch(&calls, nil)))
	waitSettled(t, c, "downloads")
	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.Trigger(ctx, "downloads", false, countingFetch(&calls, nil)))
	assert.Equal(t, int32(1), calls.Load())

	// a third trigger past the window: second call
	time.Sleep(200 * time.Millisecond)
	assert.True(t, c.Trigger(ctx, "downloads", false, countingFetch(&calls, nil)))
	waitSettled(t, c, "downloads")
	assert.Equal(t, int32(2), calls.Load())
}

func TestInFlightAbsorbsNonInitialTriggers(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: time.Millisecond})
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}

	assert.True(t, c.Trigger(ctx, "stats", false, slow))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Trigger(ctx, "stats", false, slow))
	close(release)
	waitSettled(t, c, "stats")
	assert.Equal(t, int32(1), calls.Load())
}

func TestInitialTriggerSupersedesOutstandingRequest(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: time.Millisecond})
	ctx := context.Background()

	firstCancelled := make(chan struct{})
	first := func(fetchCtx context.Context) error {
		<-fetchCtx.Done()
		close(firstCancelled)
		return fetchCtx.Err()
	}

	assert.True(t, c.Trigger(ctx, "stats", false, first))
	time.Sleep(10 * time.Millisecond)

	var secondRan atomic.Bool
	assert.True(t, c.Trigger(ctx, "stats", true, func(context.Context) error {
		secondRan.Store(true)
		return nil
	}))

	select {
	case <-firstCancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded request was not cancelled")
	}
	waitSettled(t, c, "stats")
	assert.True(t, secondRan.Load())
}

func TestFirstLoadFailureSurfaces(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: time.Millisecond})
	ctx := context.Background()
	boom := errors.New("connect refused")

	var calls atomic.Int32
	require.True(t, c.Trigger(ctx, "downloads", true, countingFetch(&calls, boom)))
	waitSettled(t, c, "downloads")

	assert.ErrorIs(t, c.Err("downloads"), boom)
	assert.False(t, c.EverLoaded("downloads"))
}

func TestFailureAfterSuccessfulLoadIsSilent(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: time.Millisecond})
	ctx := context.Background()

	var calls atomic.Int32
	require.True(t, c.Trigger(ctx, "downloads", true, countingFetch(&calls, nil)))
	waitSettled(t, c, "downloads")
	require.True(t, c.EverLoaded("downloads"))
	require.NoError(t, c.Err("downloads"))

	time.Sleep(5 * time.Millisecond)
	require.True(t, c.Trigger(ctx, "downloads", false, countingFetch(&calls, errors.New("flaky"))))
	waitSettled(t, c, "downloads")

	assert.NoError(t, c.Err("downloads"), "transient failure after a successful load must stay silent")
	assert.True(t, c.EverLoaded("downloads"))
}

func TestCancellationIsBenign(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), Options{MinInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	require.True(t, c.Trigger(ctx, "assoc", true, func(fetchCtx context.Context) error {
		close(started)
		<-fetchCtx.Done()
		return fetchCtx.Err()
	}))
	<-started
	cancel()
	waitSettled(t, c, "assoc")

	assert.NoError(t, c.Err("assoc"), "cancellation must not populate an error")
	assert.False(t, c.EverLoaded("assoc"))
}

func TestDeriveMinInterval(t *testing.T) {
	assert.Equal(t, time.Second, DeriveMinInterval(2*time.Second))
	assert.Equal(t, time.Second, DeriveMinInterval(4*time.Second))
	assert.Equal(t, 7500*time.Millisecond, DeriveMinInterval(30*time.Second))
	assert.Equal(t, 30*time.Second, DeriveMinInterval(2*time.Minute))
}

func TestSettleAll_PartialFailure(t *testing.T) {
	applied := map[string]bool{}
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	errs := SettleAll(context.Background(), map[string]Func{
		"downloads": func(context.Context) error {
			<-mu
			applied["downloads"] = true
			mu <- struct{}{}
			return nil
		},
		"stats": func(context.Context) error {
			return errors.New("timeout")
		},
	})

	assert.NoError(t, errs["downloads"])
	assert.Error(t, errs["stats"])
	assert.True(t, applied["downloads"])
	assert.False(t, AllFailed(errs))

	assert.True(t, AllFailed(map[string]error{"a": errors.New("x")}))
	assert.False(t, AllFailed(nil))
}
