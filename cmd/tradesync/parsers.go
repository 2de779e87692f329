package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/tradesync/internal/registry"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type parsersCmd struct{}

func (*parsersCmd) Name() string     { return "parsers" }
func (*parsersCmd) Synopsis() string { return "List the supported brokerage export formats." }
func (*parsersCmd) Usage() string {
	return `parsers:
  List the registered export parsers in detection order.
`
}

func (*parsersCmd) SetFlags(_ *flag.FlagSet) {}

func (*parsersCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for i, name := range registry.MustNew().ListParsers() {
		ui.Info(fmt.Sprintf("%d. %s", i+1, name))
	}
	return subcommands.ExitSuccess
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "Print the version." }
func (*versionCmd) Usage() string            { return "version:\n  Print the version.\n" }
func (*versionCmd) SetFlags(_ *flag.FlagSet) {}

func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(ui.Out, "tradesync version %s\n", version)
	return subcommands.ExitSuccess
}
