// Package scheduler runs the engine's optional background optimizer on a
// cron schedule.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a cron.Cron configured to invoke a single job, the
// engine's Optimize, on the configured schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New parses spec as a standard 5-field cron expression and registers fn to
// run on that schedule. The scheduler is not started until Start is called.
func New(spec string, logger zerolog.Logger, fn func()) (*Scheduler, error) {
	logger = logger.With().Str("component", "scheduler").Logger()
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		logger.Debug().Msg("running scheduled optimize")
		fn()
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running the scheduled job in the background.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("starting background optimize scheduler")
	s.cron.Start()
}

// Stop blocks until any in-flight run completes, then stops the scheduler.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("stopped background optimize scheduler")
}
