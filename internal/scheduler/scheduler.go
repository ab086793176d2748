// Package scheduler runs the auction lifecycle loop: PENDING auctions
// whose start has passed become ACTIVE, ACTIVE auctions whose end has
// passed get their lot winners recorded and become COMPLETED.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/live-auction/internal/model"
)

// Store is the persistence the loop needs.  Activate and Complete are
// conditional on the auction's current status and report whether they
// changed anything, which keeps repeated passes idempotent.
type Store interface {
	Now(ctx context.Context) (time.Time, error)
	DueToStart(ctx context.Context, now time.Time) ([]model.Auction, error)
	DueToClose(ctx context.Context, now time.Time) ([]model.Auction, error)
	Activate(ctx context.Context, auctionID uint64) (bool, error)
	Complete(ctx context.Context, auctionID uint64) ([]model.Winner, bool, error)
	HasTransitionWithin(ctx context.Context, now time.Time, horizon time.Duration) (bool, error)
	Snapshot(ctx context.Context, auctionID uint64) (model.AuctionSnapshot, error)
}

// Broadcaster delivers committed status transitions to viewers.
type Broadcaster interface {
	PublishStatusChange(ctx context.Context, snap model.AuctionSnapshot)
}

// Options tunes the adaptive polling delay.
type Options struct {
	UrgentHorizon time.Duration
	FastDelay     time.Duration
	DefaultDelay  time.Duration
}

// DefaultOptions poll every 5s when a transition is due within a
// minute and every 30s otherwise.
func DefaultOptions() Options {
	return Options{UrgentHorizon: 60 * time.Second, FastDelay: 5 * time.Second, DefaultDelay: 30 * time.Second}
}

// Status is the read-only diagnostics view of the loop.
type Status struct {
	Running           bool          `json:"running"`
	Ticks             uint64        `json:"ticks"`
	LastTickAt        time.Time     `json:"last_tick_at"`
	LastTickDuration  time.Duration `json:"last_tick_duration_ns"`
	NextDelay         time.Duration `json:"next_delay_ns"`
	LastError         string        `json:"last_error,omitempty"`
	AuctionsStarted   uint64        `json:"auctions_started"`
	AuctionsCompleted uint64        `json:"auctions_completed"`
	AuctionFailures   uint64        `json:"auction_failures"`
}

// Scheduler is the lifecycle control loop.
type Scheduler struct {
	store Store
	bc    Broadcaster
	opts  Options
	log   logrus.FieldLogger

	mu     sync.Mutex
	status Status
}

// New builds a scheduler.  Zero option values fall back to defaults.
func New(store Store, bc Broadcaster, opts Options, log logrus.FieldLogger) *Scheduler {
	if store == nil || bc == nil {
		panic("nil dependency passed to scheduler.New")
	}
	def := DefaultOptions()
	if opts.UrgentHorizon <= 0 {
		opts.UrgentHorizon = def.UrgentHorizon
	}
	if opts.FastDelay <= 0 {
		opts.FastDelay = def.FastDelay
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = def.DefaultDelay
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{store: store, bc: bc, opts: opts, log: log.WithField("component", "scheduler")}
}

// Run ticks until ctx is cancelled.  Cancellation is only observed
// between ticks; a tick in progress runs to completion.
func (s *Scheduler) Run(ctx context.Context) {
	s.setRunning(true)
	defer s.setRunning(false)
	s.log.Info("scheduler started")

	for {
		delay, err := s.Tick(context.WithoutCancel(ctx))
		if err != nil {
			s.log.WithError(err).Error("scheduler tick failed")
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// Tick runs one start pass and one close pass and returns the delay
// before the next tick.  Any tick-level failure, including a panic,
// yields the default delay.
func (s *Scheduler) Tick(ctx context.Context) (delay time.Duration, err error) {
	started := time.Now()
	delay = s.opts.DefaultDelay
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler tick panic: %v", r)
			delay = s.opts.DefaultDelay
		}
		s.finishTick(started, delay, err)
	}()

	now, err := s.store.Now(ctx)
	if err != nil {
		return delay, fmt.Errorf("read store clock: %w", err)
	}
	if err := s.startPass(ctx, now); err != nil {
		return delay, err
	}
	if err := s.closePass(ctx, now); err != nil {
		return delay, err
	}
	return s.nextDelay(ctx, now)
}

func (s *Scheduler) startPass(ctx context.Context, now time.Time) error {
	due, err := s.store.DueToStart(ctx, now)
	if err != nil {
		return fmt.Errorf("list auctions to start: %w", err)
	}
	for _, a := range due {
		log := s.log.WithField("auction_id", a.ID)
		changed, err := s.store.Activate(ctx, a.ID)
		if err != nil {
			s.recordFailure()
			log.WithError(err).Error("failed to start auction")
			continue
		}
		if !changed {
			continue
		}
		s.count(func(st *Status) { st.AuctionsStarted++ })
		log.Info("auction started")
		s.broadcast(ctx, a.ID, log)
	}
	return nil
}

func (s *Scheduler) closePass(ctx context.Context, now time.Time) error {
	due, err := s.store.DueToClose(ctx, now)
	if err != nil {
		return fmt.Errorf("list auctions to close: %w", err)
	}
	for _, a := range due {
		log := s.log.WithField("auction_id", a.ID)
		winners, changed, err := s.store.Complete(ctx, a.ID)
		if err != nil {
			s.recordFailure()
			log.WithError(err).Error("failed to close auction")
			continue
		}
		if !changed {
			continue
		}
		s.count(func(st *Status) { st.AuctionsCompleted++ })
		log.WithField("lots_sold", len(winners)).Info("auction completed")
		s.broadcast(ctx, a.ID, log)
	}
	return nil
}

func (s *Scheduler) broadcast(ctx context.Context, auctionID uint64, log logrus.FieldLogger) {
	snap, err := s.store.Snapshot(ctx, auctionID)
	if err != nil {
		log.WithError(err).Warn("status committed but snapshot failed; broadcast skipped")
		return
	}
	s.bc.PublishStatusChange(ctx, snap)
}

func (s *Scheduler) nextDelay(ctx context.Context, now time.Time) (time.Duration, error) {
	urgent, err := s.store.HasTransitionWithin(ctx, now, s.opts.UrgentHorizon)
	if err != nil {
		return s.opts.DefaultDelay, fmt.Errorf("check upcoming transitions: %w", err)
	}
	if urgent {
		return s.opts.FastDelay, nil
	}
	return s.opts.DefaultDelay, nil
}

// Status returns a copy of the diagnostics.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setRunning(v bool) {
	s.count(func(st *Status) { st.Running = v })
}

func (s *Scheduler) recordFailure() {
	s.count(func(st *Status) { st.AuctionFailures++ })
}

func (s *Scheduler) count(f func(*Status)) {
	s.mu.Lock()
	f(&s.status)
	s.mu.Unlock()
}

func (s *Scheduler) finishTick(started time.Time, delay time.Duration, err error) {
	s.count(func(st *Status) {
		st.Ticks++
		st.LastTickAt = started.UTC()
		st.LastTickDuration = time.Since(started)
		st.NextDelay = delay
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
		}
	})
}
