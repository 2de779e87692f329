package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/tradesync/internal/config"
	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type runsCmd struct {
	configPath string
	limit      int
	id         string
}

func (*runsCmd) Name() string     { return "runs" }
func (*runsCmd) Synopsis() string { return "Show recorded sync runs." }
func (*runsCmd) Usage() string {
	return `runs [flags]:
  List recent runs from the Firestore run history, or show one run.
  Needs firestore.project_id or FIRESTORE_PROJECT.
`
}

func (c *runsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "Config file (default "+config.DefaultPath+")")
	f.IntVar(&c.limit, "limit", 10, "Number of runs to list")
	f.StringVar(&c.id, "id", "", "Show a single run")
}

func (c *runsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		printError(err)
		return subcommands.ExitFailure
	}
	if cfg.Firestore.ProjectID == "" {
		printError(fmt.Errorf("run history needs a firestore project"))
		return subcommands.ExitUsageError
	}
	if c.limit <= 0 {
		printError(fmt.Errorf("-limit must be positive"))
		return subcommands.ExitUsageError
	}

	client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, cfg.Sheets.ServiceAccountPath)
	if err != nil {
		printError(err)
		return subcommands.ExitFailure
	}
	defer client.Close()

	if c.id != "" {
		run, err := client.GetRun(ctx, c.id)
		if err != nil {
			printError(fmt.Errorf("failed to load run %s: %w", c.id, err))
			return subcommands.ExitFailure
		}
		printRun(run)
		return subcommands.ExitSuccess
	}

	runs, err := client.ListRuns(ctx, c.limit)
	if err != nil {
		printError(err)
		return subcommands.ExitFailure
	}
	if len(runs) == 0 {
		ui.Info("no runs recorded")
	}
	for _, run := range runs {
		ui.Info(runLine(run))
	}
	return subcommands.ExitSuccess
}

func runLine(run *firestore.RunRecord) string {
	line := fmt.Sprintf("%s  %-9s  %s  +%d (%d dup)",
		run.CreatedAt.Local().Format(time.DateTime), run.Status, run.ID, run.Appended, run.Duplicates)
	if n := len(run.FailedSheets); n > 0 {
		line += fmt.Sprintf("  %d failed", n)
	}
	return line
}

func printRun(run *firestore.RunRecord) {
	ui.Header("Run " + run.ID)
	ui.KeyValue("Status", string(run.Status))
	ui.KeyValue("Started", run.CreatedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		ui.KeyValue("Elapsed", run.CompletedAt.Sub(run.CreatedAt).String())
	}
	ui.KeyValue("Files", run.FileCount)
	ui.KeyValue("Appended", run.Appended)
	ui.KeyValue("Duplicates", run.Duplicates)
	ui.KeyValue("Dashboard", run.DashboardStatus)
	for _, name := range run.FailedSheets {
		ui.Error(name)
	}
	if run.Error != "" {
		ui.Error(run.Error)
	}
}
