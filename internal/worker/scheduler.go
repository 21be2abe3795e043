/**
 * @description
 * Cron scheduler setup for the worker's periodic jobs.
 */
package worker

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the worker's cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	discovery *Discovery
	logger    *slog.Logger
	schedule  string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(discovery *Discovery, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		discovery: discovery,
		logger:    logger,
		schedule:  schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.discovery.Run); err != nil {
		s.logger.Error("failed to schedule discovery sweep", "error", err)
	} else {
		s.logger.Info("scheduled discovery sweep", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
