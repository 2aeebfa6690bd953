package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/pkg/utils"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/store"
)

var scriptHwd = &ScriptRunner{}

type ScriptRunner struct{}

var outcomeColors = map[store.Outcome]*color.Color{
	store.OutcomeSuccess: color.New(color.FgGreen),
	store.OutcomeFailed:  color.New(color.FgRed),
	store.OutcomeTimeout: color.New(color.FgYellow),
}

func (r *ScriptRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "script",
		Usage: "Run scripts and inspect their execution history",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a script once and record the execution",
				ArgsUsage: "<script-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "input",
						Usage: "JSON object exposed to the script as INPUT_DATA",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "Timeout in seconds, capped by runner.max_timeout_sec",
					},
				},
				Action: r.run,
			},
			{
				Name:      "history",
				Usage:     "Show recent executions of a script",
				ArgsUsage: "<script-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of executions to show",
						Value: 20,
					},
				},
				Action: r.history,
			},
		},
	}
}

func (r *ScriptRunner) run(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, "script-id")
	if err != nil {
		return err
	}
	var input map[string]any
	if raw := strings.TrimSpace(cmd.String("input")); raw != "" {
		if err := sonic.UnmarshalString(raw, &input); err != nil {
			return fmt.Errorf("--input must be a JSON object: %w", err)
		}
	}

	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	script, err := rt.store.GetScript(ctx, id)
	if err != nil {
		return notFoundAs(err, "script", id)
	}

	rec, err := runner.RunAndRecord(ctx, rt.runner, rt.store, script, runner.Invocation{
		Trigger: store.TriggerManual,
		Input:   input,
		Timeout: time.Duration(cmd.Int("timeout")) * time.Second,
	})
	if rec != nil {
		printRecord(rec)
		if rec.Stdout != "" {
			fmt.Println(strings.TrimRight(rec.Stdout, "\n"))
		}
		if rec.Stderr != "" {
			color.New(color.FgHiBlack).Println(strings.TrimRight(rec.Stderr, "\n"))
		}
	}
	return err
}

func (r *ScriptRunner) history(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, "script-id")
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.store.GetScript(ctx, id); err != nil {
		return notFoundAs(err, "script", id)
	}
	recs, err := rt.store.ListExecutions(ctx, id, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No executions yet.")
		return nil
	}
	for _, rec := range recs {
		printRecord(rec)
	}
	return nil
}

func printRecord(rec *store.ExecutionRecord) {
	c, ok := outcomeColors[rec.Outcome]
	if !ok {
		c = color.New(color.Reset)
	}
	fmt.Printf("#%-5d %s  %-9s %-8s exit=%-3d %8s  %s\n",
		rec.ID,
		rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
		rec.Trigger,
		c.Sprint(rec.Outcome),
		rec.ExitCode,
		rec.Duration().Round(time.Millisecond),
		utils.Truncate(utils.FirstLine(rec.Result), 60),
	)
}
