// Package poll drives periodic refreshes independently of the push channel,
// as a fallback for missed messages and a complement for data classes with
// no push signal at all.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tier groups data classes by how fresh they need to be.
type Tier int

const (
	TierFast Tier = iota
	TierMedium
	TierSlow
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	case TierSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// Task is one periodic refresh. Run must respect ctx.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Scheduler runs registered tasks on tiered intervals.
type Scheduler struct {
	logger *zap.Logger

	mu        sync.Mutex
	intervals map[Tier]time.Duration
	tasks     map[Tier][]Task
	retune    map[Tier]chan struct{}
	running   bool
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler with the given tier intervals.
func NewScheduler(logger *zap.Logger, fast, medium, slow time.Duration) *Scheduler {
	return &Scheduler{
		logger: logger.Named("poll"),
		intervals: map[Tier]time.Duration{
			TierFast:   fast,
			TierMedium: medium,
			TierSlow:   slow,
		},
		tasks: make(map[Tier][]Task),
		retune: map[Tier]chan struct{}{
			TierFast:   make(chan struct{}, 1),
			TierMedium: make(chan struct{}, 1),
			TierSlow:   make(chan struct{}, 1),
		},
	}
}

// Register adds a task to a tier. Registration after Start is allowed; the
// task joins on the tier's next tick.
func (s *Scheduler) Register(tier Tier, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[tier] = append(s.tasks[tier], task)
}

// Interval returns the current interval for a tier.
func (s *Scheduler) Interval(tier Tier) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals[tier]
}

// SetInterval retunes a tier at runtime; the new interval takes effect
// immediately, not after the pending tick.
func (s *Scheduler) SetInterval(tier Tier, d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.intervals[tier] = d
	ch := s.retune[tier]
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	s.logger.Info("polling tier retuned",
		zap.String("tier", tier.String()),
		zap.Duration("interval", d))
}

// Start launches one loop per tier. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, tier := range []Tier{TierFast, TierMedium, TierSlow} {
		go s.loop(runCtx, tier)
	}
}

// Stop halts all tier loops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, tier Tier) {
	timer := time.NewTimer(s.Interval(tier))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.retune[tier]:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval(tier))
		case <-timer.C:
			s.runTier(ctx, tier)
			timer.Reset(s.Interval(tier))
		}
	}
}

func (s *Scheduler) runTier(ctx context.Context, tier Tier) {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks[tier]...)
	s.mu.Unlock()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		task.Run(ctx)
	}
}
