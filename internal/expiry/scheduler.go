package expiry

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the sweeper on a cron spec such as "@every 1m".
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *Sweeper
	logger   *slog.Logger
	schedule string
}

func NewScheduler(sweeper *Sweeper, logger *slog.Logger, schedule string) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, sweeper: sweeper, logger: logger, schedule: schedule}
}

// ValidateSchedule reports whether spec parses as a cron schedule.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweeper.Run); err != nil {
		s.logger.Error("failed to schedule plan expiry sweep", "error", err)
		return err
	}
	s.logger.Info("scheduled plan expiry sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done when a running sweep finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
