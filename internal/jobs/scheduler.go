// Package jobs runs periodic maintenance reports on a cron schedule.
package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/grihya/livechat/internal/logger"
)

// Scheduler wraps a UTC gocron scheduler.
type Scheduler struct {
	s gocron.Scheduler
}

func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(cronLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}
	return &Scheduler{s: s}, nil
}

// AddJob registers job under name with a standard five-field cron expression.
func (s *Scheduler) AddJob(name, cronExpr string, job func()) error {
	j, err := s.s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(job),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("jobs: schedule %q (%s): %w", name, cronExpr, err)
	}
	if next, err := j.NextRun(); err == nil {
		logger.Infof("jobs: %s scheduled (%s), next run %s", name, cronExpr, next.Format(time.RFC3339))
	}
	return nil
}

func (s *Scheduler) Start() { s.s.Start() }

func (s *Scheduler) Stop() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("jobs: shutdown: %w", err)
	}
	return nil
}

// cronLogger routes gocron's own messages to the service logger.
type cronLogger struct{}

func (cronLogger) Debug(msg string, args ...any) { logger.Debugf("gocron: %s %v", msg, args) }
func (cronLogger) Info(msg string, args ...any)  { logger.Infof("gocron: %s %v", msg, args) }
func (cronLogger) Warn(msg string, args ...any)  { logger.Warnf("gocron: %s %v", msg, args) }
func (cronLogger) Error(msg string, args ...any) { logger.Errorf("gocron: %s %v", msg, args) }
