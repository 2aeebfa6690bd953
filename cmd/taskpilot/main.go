package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "taskpilot",
		Usage: "Reminder scheduler and script runner with chat, email and WhatsApp notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file (default ~/.taskpilot/config.yaml)",
				Sources: cli.EnvVars("TASKPILOT_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveHwd.cmd(),
			schedulerHwd.cmd(),
			reminderHwd.cmd(),
			scriptHwd.cmd(),
			msgHwd.cmd(),
			initHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
