// Package scheduler drives a coordinator on a fixed interval, standing in for
// the host platform's periodic update mechanism.
package scheduler

import (
	"context"
	"time"

	"github.com/avast/retry-go/v3"
	"github.com/benbjohnson/clock"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/log"
)

// Refresher runs one update cycle.
type Refresher interface {
	Refresh(ctx context.Context) error
}

const (
	defaultAttempts   = 5
	defaultRetryDelay = 2 * time.Second
	defaultMaxDelay   = 30 * time.Second
)

// Scheduler calls a Refresher every interval until its context ends.
type Scheduler struct {
	target   Refresher
	interval time.Duration
	clock    clock.Clock
	log      log.Logger

	attempts   uint
	retryDelay time.Duration
	maxDelay   time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock driving the ticker.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.log = log.OrNop(l) }
}

// WithRetry sets the attempt budget and the initial backoff of FirstRefresh.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.attempts = attempts
		s.retryDelay = delay
		if s.maxDelay < delay {
			s.maxDelay = delay
		}
	}
}

// New creates a scheduler. A non-positive interval falls back to
// coordinator.DefaultInterval.
func New(target Refresher, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = coordinator.DefaultInterval
	}
	s := &Scheduler{
		target:     target,
		interval:   interval,
		clock:      clock.New(),
		log:        log.NewNopLogger(),
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// FirstRefresh must succeed before setup continues. Transient failures are
// retried with exponential backoff; authentication and data failures are
// returned immediately since retrying cannot fix them.
func (s *Scheduler) FirstRefresh(ctx context.Context) error {
	return retry.Do(
		func() error { return s.target.Refresh(ctx) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(s.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("first refresh failed, retrying", "attempt", int(n)+1, "error", err)
		}),
	)
}

func retryable(err error) bool {
	switch coordinator.KindOf(err) {
	case coordinator.KindAuth, coordinator.KindData:
		return false
	default:
		return true
	}
}

// Run refreshes on every tick until ctx is done. Cycle failures are logged
// and do not stop the loop; the coordinator keeps its last good reading.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.log.Info("polling started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("polling stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.target.Refresh(ctx); err != nil {
				s.log.Debug("scheduled refresh failed", "kind", string(coordinator.KindOf(err)))
			}
		}
	}
}
