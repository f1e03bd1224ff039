package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within "+timeout.String())
}

func TestSchedulerRunsRegisteredTasks(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 20*time.Millisecond, time.Hour, time.Hour)

	var fast, slow atomic.Int32
	s.Register(TierFast, Task{Name: "downloads", Run: func(context.Context) { fast.Add(1) }})
	s.Register(TierSlow, Task{Name: "config", Run: func(context.Context) { slow.Add(1) }})

	s.Start(t.Context())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return fast.Load() >= 3 })
	assert.EqualValues(t, 0, slow.Load())
}

func TestSchedulerRetuneTakesEffectImmediately(t *testing.T) {
	s := NewScheduler(zap.NewNop(), time.Hour, time.Hour, time.Hour)

	var calls atomic.Int32
	s.Register(TierFast, Task{Name: "downloads", Run: func(context.Context) { calls.Add(1) }})

	s.Start(t.Context())
	defer s.Stop()

	// The pending hour-long tick must be replaced, not waited out.
	s.SetInterval(TierFast, 15*time.Millisecond)
	waitFor(t, time.Second, func() bool { return calls.Load() >= 2 })
	assert.Equal(t, 15*time.Millisecond, s.Interval(TierFast))
}

func TestSchedulerIgnoresNonPositiveInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop(), time.Minute, time.Hour, time.Hour)
	s.SetInterval(TierFast, 0)
	assert.Equal(t, time.Minute, s.Interval(TierFast))
	s.SetInterval(TierFast, -time.Second)
	assert.Equal(t, time.Minute, s.Interval(TierFast))
}

func TestSchedulerStopHaltsLoops(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 10*time.Millisecond, time.Hour, time.Hour)

	var calls atomic.Int32
	s.Register(TierFast, Task{Name: "downloads", Run: func(context.Context) { calls.Add(1) }})

	s.Start(t.Context())
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	s.Stop()

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

func TestSchedulerStartTwiceIsNoop(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 10*time.Millisecond, time.Hour, time.Hour)

	var calls atomic.Int32
	s.Register(TierFast, Task{Name: "downloads", Run: func(context.Context) { calls.Add(1) }})

	ctx := t.Context()
	s.Start(ctx)
	s.Start(ctx)
	defer s.Stop()

	time.Sleep(35 * time.Millisecond)
	// A doubled loop would roughly double the call count.
	assert.LessOrEqual(t, calls.Load(), int32(5))
}
