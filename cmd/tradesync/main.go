// Command tradesync appends brokerage trade exports to a Google spreadsheet
// and rebuilds its dashboard.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

const version = "0.1.0"

func commands() []subcommands.Command {
	return []subcommands.Command{
		&syncCmd{},
		&dashboardCmd{},
		&scheduleCmd{},
		&serveCmd{},
		&runsCmd{},
		&parsersCmd{},
		&versionCmd{},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, c := range commands() {
		commander.Register(c, "")
	}

	flag.Parse()
	code := commander.Execute(ctx)
	stop()
	os.Exit(int(code))
}
