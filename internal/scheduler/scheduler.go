// Package scheduler raises a signal on a fixed period.
package scheduler

import (
	"context"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/executor"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
)

// Scheduler fires after an initial delay and then every period. Each expiry
// only notifies; the work happens wherever the notifier routes it.
type Scheduler struct {
	name   string
	period time.Duration
	delay  time.Duration
	target executor.Notifier
	clock  wallclock.WallClock
	log    logger.Logger
}

type Option func(*Scheduler)

func WithClock(clock wallclock.WallClock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

func New(name string, period, delay time.Duration, target executor.Notifier, opts ...Option) (*Scheduler, error) {
	errFactory := errors.New()

	if period <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, name+" period="+period.String())
	}
	if delay < 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, name+" delay="+delay.String())
	}
	if target == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "scheduler target is nil")
	}

	s := &Scheduler{
		name:   name,
		period: period,
		delay:  delay,
		target: target,
		clock:  wallclock.Real(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Scheduler) Name() string {
	return s.name
}

// Run fires until ctx is done. A zero delay fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Debug().
		Str("scheduler", s.name).
		Dur("period", s.period).
		Dur("delay", s.delay).
		Msg("Scheduler started")

	if s.delay > 0 {
		timer := s.clock.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
	s.target.Notify()

	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Str("scheduler", s.name).Msg("Scheduler stopped")
			return
		case <-ticker.C():
			s.target.Notify()
		}
	}
}
