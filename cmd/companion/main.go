// Command companion is Companion Memory's process entry point: it exposes
// the scheduler, job-worker, and web subcommands spec.md §6.3 names.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/eykd/companion-memory/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "companion",
		Usage: "Companion Memory scheduler, worker, and web processes",
		Commands: []*cli.Command{
			schedulerCommand(),
			workerCommand(),
			webCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("command execution failed: %v", err)
		os.Exit(1)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the runtime config file",
	}
}
