/**
 * @description
 * Cron scheduling for the subscription expiry sweep. The sweep itself lives
 * in the service (SweepExpired); this file owns the schedule and the panic
 * recovery chain around it.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 2 * time.Minute

// Sweeper runs the expiry sweep on a fixed cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewSweeper creates a sweeper for the given cron schedule expression.
func NewSweeper(service *Service, schedule string) *Sweeper {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Sweeper{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule expiry sweep\" schedule=%q err=%v", s.schedule, err)
		return
	}
	log.Printf("level=info component=sweeper msg=\"scheduled expiry sweep\" schedule=%q", s.schedule)
	s.cron.Start()
}

// Stop gracefully stops the scheduler, returning a context that is done once
// any in-flight sweep has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := s.service.SweepExpired(ctx)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"expiry sweep failed\" err=%v", err)
		return
	}
	log.Printf("level=info component=sweeper msg=\"expiry sweep finished\" expired=%d", count)
}
