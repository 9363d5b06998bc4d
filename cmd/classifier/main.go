package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/kirillkom/conversation-insights/internal/bootstrap"
	"github.com/kirillkom/conversation-insights/internal/config"
	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/scheduler"
	"github.com/kirillkom/conversation-insights/internal/observability/logging"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitConfig     = 2
	exitExtraction = 3
	exitSubmission = 4
	exitTerminal   = 5
	exitAbandoned  = 6
	exitNoOutput   = 7
	exitActiveJob  = 8
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	cfg := config.Load()
	if opts.Profile != "" {
		cfg.ClassifierProfile = opts.Profile
	}
	logger := logging.NewLogger("classifier", cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch parser.Active.Name {
	case "run":
		err = runOnce(ctx, cfg, logger, opts.Run)
	case "resume":
		err = resume(ctx, cfg, logger, opts.Resume)
	case "schedule":
		err = schedule(ctx, cfg, logger, opts.Schedule)
	}

	code := exitCode(err)
	switch {
	case code == exitOK:
	case errors.Is(err, context.Canceled):
		logger.Warn("classifier_interrupted", "error", err)
	default:
		logger.Error("classifier_failed", "error", err, "exit_code", code)
	}
	return code
}

func runOnce(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd RunCmd) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{AllowDuplicate: cmd.AllowDuplicate})
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Runner.Run(ctx)
	logResult(logger, result, err)
	return err
}

func resume(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd ResumeCmd) error {
	if err := cfg.ValidateResume(); err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{SkipSource: true})
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Runner.Resume(ctx, cmd.JobID)
	logResult(logger, result, err)
	return err
}

func schedule(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd ScheduleCmd) error {
	if cmd.Cron != "" {
		cfg.Schedule = cmd.Cron
	}
	if err := cfg.ValidateSchedule(); err != nil {
		return err
	}
	sched, err := scheduler.New(cfg.Schedule, logger)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "parse schedule", err)
	}
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{AllowDuplicate: cmd.AllowDuplicate})
	if err != nil {
		return err
	}
	defer app.Close()

	sched.Run(ctx, func(runCtx context.Context) {
		result, err := app.Runner.Run(runCtx)
		logResult(logger, result, err)
		if err != nil && !errors.Is(err, domain.ErrNothingToSubmit) {
			logger.Error("scheduled_run_failed", "error", err, "exit_code", exitCode(err))
		}
		logger.Info("next_scheduled_run", "at", sched.Next(time.Now()))
	})
	return nil
}

func logResult(logger *slog.Logger, result *ports.RunResult, err error) {
	if result == nil {
		return
	}
	s := result.Summary
	logger.Info("run_finished",
		"run_id", s.RunID,
		"job_id", s.JobID,
		"report", result.ReportPath,
		"extracted", s.Extracted,
		"submitted", s.Submitted,
		"result_lines", s.ResultLines,
		"nothing_to_submit", errors.Is(err, domain.ErrNothingToSubmit),
	)
}

// exitCode maps pipeline failures to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, domain.ErrNothingToSubmit):
		return exitOK
	case errors.Is(err, domain.ErrConfiguration):
		return exitConfig
	case errors.Is(err, domain.ErrActiveJobExists):
		return exitActiveJob
	case errors.Is(err, domain.ErrExtraction):
		return exitExtraction
	case errors.Is(err, domain.ErrSubmission):
		return exitSubmission
	case errors.Is(err, domain.ErrJobTerminal):
		return exitTerminal
	case errors.Is(err, domain.ErrMonitoringAbandoned):
		return exitAbandoned
	case errors.Is(err, domain.ErrNoOutput):
		return exitNoOutput
	default:
		return exitFailure
	}
}
