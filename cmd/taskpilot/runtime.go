package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/consts"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/gateway"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/scheduler"
	"github.com/tgifai/taskpilot/internal/store"
)

var errNotConfigured = errors.New("taskpilot is not configured yet, run \"taskpilot init\" first")

// runtime bundles what every command needs once the config is loaded.
type runtime struct {
	cfgPath string
	cfg     *config.Config
	store   store.Store
	runner  *runner.Runner
}

func configPath(cmd *cli.Command) string {
	if p := strings.TrimSpace(cmd.String("config")); p != "" {
		return p
	}
	return consts.DefaultConfigPath()
}

func openRuntime(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfgPath := configPath(cmd)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return nil, errNotConfigured
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config error: %w", err)
	}
	if err = initLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logger error: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	r, err := runner.New(cfg.Runner)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create runner: %w", err)
	}

	return &runtime{cfgPath: cfgPath, cfg: cfg, store: st, runner: r}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		logs.Warn("close store: %v", err)
	}
}

// newScheduler wires the dispatcher over the process channel registry.
func (rt *runtime) newScheduler(opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	notifier := dispatch.New(channel.Default(), rt.store)
	opts = append([]scheduler.Option{scheduler.WithRunner(rt.runner)}, opts...)
	return scheduler.New(rt.cfg.Scheduler, rt.store, notifier, opts...)
}

// startChannels registers outbound channels for one-shot commands. Inbound
// polling is left to serve.
func (rt *runtime) startChannels(ctx context.Context) error {
	for id, chCfg := range rt.cfg.Channels {
		if !chCfg.Enabled {
			continue
		}
		ch, err := gateway.NewChannel(id, chCfg)
		if err != nil {
			return fmt.Errorf("create channel %s: %w", id, err)
		}
		if err := channel.Register(ch); err != nil {
			return fmt.Errorf("register channel %s: %w", id, err)
		}
	}
	return nil
}

func (rt *runtime) stopChannels(ctx context.Context) {
	for _, ch := range channel.List() {
		_ = ch.Stop(ctx)
		channel.Unregister(ch.ID())
	}
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}
