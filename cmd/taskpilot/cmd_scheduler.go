package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/instance"
	"github.com/tgifai/taskpilot/internal/scheduler"
)

var schedulerHwd = &SchedulerRunner{}

type SchedulerRunner struct{}

func (r *SchedulerRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Drive the scheduler by hand",
		Commands: []*cli.Command{
			{
				Name:   "tick",
				Usage:  "Run one scheduler cycle now and exit",
				Action: r.tick,
			},
		},
	}
}

func (r *SchedulerRunner) tick(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.startChannels(ctx); err != nil {
		return err
	}
	defer rt.stopChannels(ctx)

	// Hold the same guard as serve so a manual cycle cannot overlap it.
	guard, err := instance.New(ctx, rt.cfg.Instance)
	if err != nil {
		return fmt.Errorf("create instance guard: %w", err)
	}
	if err := guard.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire instance guard: %w", err)
	}
	defer func() { _ = guard.Release(context.WithoutCancel(ctx)) }()

	sched, err := rt.newScheduler(scheduler.WithGuard(guard))
	if err != nil {
		return err
	}
	if err := sched.RunCycle(ctx, time.Now()); err != nil {
		return fmt.Errorf("scheduler cycle: %w", err)
	}
	fmt.Println("cycle complete")
	return nil
}
