package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/output"
	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type syncCmd struct {
	common   commonFlags
	planPath string
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "Append new trades to the ledgers and refresh the dashboard." }
func (*syncCmd) Usage() string {
	return `sync [flags]:
  Scan the input directory, append every trade the ledger sheets do not
  have yet and rebuild the dashboard.

Examples:
  tradesync sync -input ~/stocks
  tradesync sync -dry-run -plan plan.json
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	c.common.register(f)
	f.StringVar(&c.planPath, "plan", "", "Write the JSON plan to this file (\"-\" for stdout)")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.planPath == "-" {
		ui.Out = os.Stderr
	}
	a, ok := setup(ctx, &c.common)
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	title := "Trade Sync"
	if a.cfg.DryRun {
		title += " (dry run)"
	}
	ui.Header(title)

	summary, err := a.runner.Run(ctx)
	if summary != nil {
		printSummary(summary)
		if c.planPath != "" {
			if perr := writePlan(summary, c.planPath); perr != nil {
				printError(perr)
				return subcommands.ExitFailure
			}
		}
	}
	return exitStatus(summary, err)
}

func writePlan(s *pipeline.Summary, path string) error {
	opts := output.WriteOptions{FilePath: path}
	if path == "-" {
		opts.FilePath = ""
	}
	return output.WritePlanToFile(s.Plan(), opts)
}

// exitStatus maps a run outcome to the process exit code. Partial runs fail
// so that schedulers notice them.
func exitStatus(s *pipeline.Summary, err error) subcommands.ExitStatus {
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(err)
		}
		return subcommands.ExitFailure
	}
	if s == nil || s.Status() == firestore.RunStatusPartial {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printSummary(s *pipeline.Summary) {
	ui.Step(1, 3, "Input files")
	ui.KeyValue("Processed", s.FileCount(ingest.StatusProcessed))
	ui.KeyValue("Unrecognized", s.FileCount(ingest.StatusUnrecognized))
	ui.KeyValue("Failed", s.FileCount(ingest.StatusFailed))
	for _, f := range s.Files {
		if f.Status == ingest.StatusFailed {
			ui.Warning(fmt.Sprintf("%s: %v", f.Path, f.Err))
		}
	}

	ui.Step(2, 3, "Ledger sheets")
	for _, d := range s.Destinations {
		line := fmt.Sprintf("%s: %d new, %d duplicates", d.Name, d.New, d.Duplicates)
		if d.Invalid > 0 {
			line += fmt.Sprintf(", %d invalid", d.Invalid)
		}
		if d.Append != nil && d.Append.Count > 0 {
			line += " " + ui.BlueText(d.Append.Range)
		}
		if d.Err != nil {
			ui.Error(fmt.Sprintf("%s (%v)", line, d.Err))
			continue
		}
		if d.Created {
			line += " " + ui.YellowText("(created)")
		}
		ui.Success(line)
	}

	ui.Step(3, 3, "Dashboard")
	switch s.Dashboard {
	case pipeline.DashboardWritten, pipeline.DashboardDryRun:
		ui.Success(string(s.Dashboard))
	case pipeline.DashboardFailed:
		ui.Error(fmt.Sprintf("failed: %v", s.DashboardErr))
	default:
		ui.Warning(string(s.Dashboard))
	}

	fmt.Fprintln(ui.Out)
	ui.KeyValue("Run", s.RunID)
	ui.KeyValue("Status", string(s.Status()))
	ui.KeyValue("Appended", s.Appended())
	ui.KeyValue("Duplicates", s.Duplicates())
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
