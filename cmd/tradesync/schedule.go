package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/google/subcommands"
	"github.com/robfig/cron/v3"

	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type scheduleCmd struct {
	common commonFlags
	spec   string
	runNow bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "Run sync repeatedly on a cron schedule." }
func (*scheduleCmd) Usage() string {
	return `schedule [flags]:
  Keep running and sync on every tick of the schedule until interrupted.
  Overlapping ticks are skipped while a run is still in progress.

Examples:
  tradesync schedule -cron "0 18 * * 1-5"
  tradesync schedule -cron "@every 30m" -now
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	c.common.register(f)
	f.StringVar(&c.spec, "cron", "", "Cron expression or descriptor (default from config)")
	f.BoolVar(&c.runNow, "now", false, "Also run once immediately")
}

func (c *scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := setup(ctx, &c.common)
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	spec := c.spec
	if spec == "" {
		spec = a.cfg.Schedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		printError(fmt.Errorf("invalid schedule %q: %w", spec, err))
		return subcommands.ExitUsageError
	}

	job := func() {
		summary, err := a.runner.Run(ctx)
		if err != nil {
			a.logger.Error("scheduled run failed", "error", err)
			return
		}
		a.logger.Info("scheduled run done", "run_id", summary.RunID, "status", string(summary.Status()))
	}

	logger := cronLogger{a.logger.With("component", "cron")}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		printError(err)
		return subcommands.ExitFailure
	}

	ui.Header("Trade Sync Scheduler")
	ui.KeyValue("Schedule", spec)
	ui.KeyValue("Input", a.cfg.Input)

	if c.runNow {
		job()
	}
	scheduler.Start()
	<-ctx.Done()

	a.logger.Info("stopping scheduler, waiting for running jobs")
	<-scheduler.Stop().Done()
	return subcommands.ExitSuccess
}

// cronLogger adapts slog to cron's logger. Cron's chatty scheduling messages
// go to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
