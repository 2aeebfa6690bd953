package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/gateway"
	"github.com/tgifai/taskpilot/internal/instance"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/scheduler"
)

var serveHwd = &ServeRunner{}

type ServeRunner struct{}

func (r *ServeRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the scheduler, the notification channels and the HTTP control API",
		Action: r.run,
	}
}

func (r *ServeRunner) run(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd)
	if errors.Is(err, errNotConfigured) {
		fmt.Println(err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	defer rt.Close()

	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))
	logs.CtxInfo(ctx, "booting taskpilot, using config file: %s...", rt.cfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	guard, err := instance.New(ctx, rt.cfg.Instance)
	if err != nil {
		return fmt.Errorf("create instance guard: %w", err)
	}
	sched, err := rt.newScheduler(scheduler.WithGuard(guard))
	if err != nil {
		return err
	}

	gw := gateway.NewGateway(rt.cfg, rt.store, sched, rt.runner)
	if err = gw.Start(ctx); err != nil {
		cancel()
		_ = gw.Stop(context.Background())
		return fmt.Errorf("start gateway: %w", err)
	}

	logs.CtxInfo(ctx, "taskpilot is up. Press Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping runtime...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping runtime...")
	}

	if err = gw.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop gateway error: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}
