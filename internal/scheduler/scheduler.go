package scheduler

import (
	"context"
	"time"

	"quorum/internal/logger"
)

// Scheduler drives the trading loop. Decision cycles run at the dense
// interval while the market is open and the sparse interval otherwise;
// position reviews tick on their own shorter cadence. The enabled gate is
// consulted per trigger, so disabling trading skips work without stopping
// the loops.
type Scheduler struct {
	DenseInterval  time.Duration
	SparseInterval time.Duration
	ReviewInterval time.Duration
	RunImmediately bool

	MarketOpen func(ctx context.Context) bool
	Enabled    func() bool
	RunCycle   func(ctx context.Context)
	RunReview  func(ctx context.Context)
}

// Start blocks until ctx is done. An in-flight cycle finishes on its own
// context budget; no new trigger fires after cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.RunCycle == nil {
		logger.Warnf("scheduler: no cycle task, exit")
		return
	}
	if s.DenseInterval <= 0 || s.SparseInterval <= 0 {
		logger.Warnf("scheduler: invalid intervals dense=%s sparse=%s, exit", s.DenseInterval, s.SparseInterval)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Infof("scheduler: started dense=%s sparse=%s review=%s run_immediately=%v",
		s.DenseInterval, s.SparseInterval, s.ReviewInterval, s.RunImmediately)

	if s.RunReview != nil && s.ReviewInterval > 0 {
		go s.reviewLoop(ctx)
	}

	if s.RunImmediately {
		s.trigger(ctx)
	}

	for {
		wait := s.SparseInterval
		open := s.MarketOpen != nil && s.MarketOpen(ctx)
		if open {
			wait = s.DenseInterval
		}
		logger.Debugf("scheduler: market_open=%v next cycle in %s", open, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		s.trigger(ctx)
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if s.Enabled != nil && !s.Enabled() {
		logger.Infof("scheduler: trading disabled, cycle skipped")
		return
	}
	s.RunCycle(ctx)
}

func (s *Scheduler) reviewLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ReviewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: review loop exit")
			return
		case <-ticker.C:
		}
		if s.Enabled != nil && !s.Enabled() {
			continue
		}
		s.RunReview(ctx)
	}
}
