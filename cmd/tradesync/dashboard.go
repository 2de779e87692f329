package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type dashboardCmd struct {
	common commonFlags
}

func (*dashboardCmd) Name() string     { return "dashboard" }
func (*dashboardCmd) Synopsis() string { return "Rebuild the dashboard without ingesting exports." }
func (*dashboardCmd) Usage() string {
	return `dashboard [flags]:
  Read every ledger sheet back and rewrite the dashboard sheet.
`
}

func (c *dashboardCmd) SetFlags(f *flag.FlagSet) { c.common.register(f) }

func (c *dashboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := setup(ctx, &c.common)
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	ui.Header("Dashboard")
	status, err := a.runner.RefreshDashboard(ctx)
	switch status {
	case pipeline.DashboardWritten, pipeline.DashboardDryRun:
		ui.Success(string(status))
		return subcommands.ExitSuccess
	case pipeline.DashboardSkipped:
		ui.Warning("skipped: too many ledger sheets could not be read")
	default:
		ui.Error(fmt.Sprintf("%s: %v", status, err))
	}
	return subcommands.ExitFailure
}
