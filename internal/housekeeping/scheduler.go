// Package housekeeping runs the periodic sweeps over live tickets: inactivity
// reminders and ticket directory refreshes.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/ticketbot/pkg/logger"
)

// NextRun returns the first boundary of the interval grid strictly after now.
// With a 15 minute interval the grid is :00, :15, :30 and :45.
func NextRun(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Scheduler calls a job on every grid boundary. The next run is armed only
// after the current one returns, so runs never overlap.
type Scheduler struct {
	clock    Clock
	interval time.Duration
	job      func(ctx context.Context)
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler for job.
func NewScheduler(clock Clock, interval time.Duration, job func(ctx context.Context)) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    clock,
		interval: interval,
		job:      job,
		log:      logger.Component("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the loop. Further calls are no-ops, so a reconnecting
// platform session can call it on every ready event.
func (s *Scheduler) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.loop()
		s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")
	})
}

// Stop cancels the loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		next := NextRun(now, s.interval)
		s.log.Debug().Time("next_run", next).Msg("Scheduler armed")

		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(next.Sub(now)):
		}

		s.runOnce()
	}
}

func (s *Scheduler) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Scheduled job panicked")
		}
	}()
	s.job(s.ctx)
}
