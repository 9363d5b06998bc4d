package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler triggers runs on a 5-field cron expression. A run still in progress
// turns the next tick into a no-op, so runs never overlap.
type Scheduler struct {
	schedule cron.Schedule
	expr     string
	logger   *slog.Logger
}

func New(expr string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return &Scheduler{schedule: schedule, expr: expr, logger: logger}, nil
}

// Run calls job on every tick until ctx is cancelled, then waits for the
// running job to return.
func (s *Scheduler) Run(ctx context.Context, job func(ctx context.Context)) {
	cronLogger := slogAdapter{logger: s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { job(ctx) }))

	c.Start()
	for _, entry := range c.Entries() {
		s.logger.Info("schedule_started", "expr", s.expr, "next_run", entry.Next)
	}
	<-ctx.Done()
	s.logger.Info("schedule_stopping")
	<-c.Stop().Done()
}

// Next reports the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron_"+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
