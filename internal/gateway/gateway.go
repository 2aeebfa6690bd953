// Package gateway is the long-running runtime around the scheduler: it owns
// the notification channels, answers inbound chat commands and serves the
// HTTP control API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	hzConfig "github.com/cloudwego/hertz/pkg/common/config"
	monitor "github.com/hertz-contrib/monitor-prometheus"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/scheduler"
	"github.com/tgifai/taskpilot/internal/store"
)

const (
	defaultBind           = "127.0.0.1:8088"
	defaultRequestTimeout = 60 * time.Second
	defaultMaxScriptRun   = 300 * time.Second
	// scriptRunSlack covers the ssh dial and the record write around a run.
	scriptRunSlack = 45 * time.Second
)

// Scheduler is the part of the scheduler the gateway drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() scheduler.State
	RunCycle(ctx context.Context, now time.Time) error
	TodayTasks(ctx context.Context, userID int64, now time.Time) ([]*store.Task, error)
	Location() *time.Location
}

type Gateway struct {
	cfg        *config.Config
	store      store.Store
	scheduler  Scheduler
	runner     *runner.Runner
	channels   *channel.Registry
	commands   *CommandRouter
	inbound    *inboundQueue
	httpServer *hzServer.Hertz
	timeout    time.Duration
	now        func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

type Option func(*Gateway)

// WithRegistry replaces the process-wide channel registry.
func WithRegistry(r *channel.Registry) Option {
	return func(gw *Gateway) { gw.channels = r }
}

func WithClock(now func() time.Time) Option {
	return func(gw *Gateway) { gw.now = now }
}

func NewGateway(cfg *config.Config, st store.Store, sched Scheduler, r *runner.Runner, opts ...Option) *Gateway {
	bind := cfg.Server.Bind
	if bind == "" {
		bind = defaultBind
	}

	timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	hzOpts := []hzConfig.Option{
		hzServer.WithHostPorts(bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(writeTimeout(cfg, timeout)),
		hzServer.WithExitWaitTime(5 * time.Second),
		hzServer.WithDisablePrintRoute(true),
	}
	if cfg.Server.MetricsBind != "" {
		hzOpts = append(hzOpts, hzServer.WithTracer(monitor.NewServerTracer(
			cfg.Server.MetricsBind, "/metrics",
			monitor.WithRegistry(prometheus.GetRegistry()),
		)))
	}

	gw := &Gateway{
		cfg:        cfg,
		store:      st,
		scheduler:  sched,
		runner:     r,
		channels:   channel.Default(),
		commands:   newCommandRouter(),
		inbound:    newInboundQueue(QueueOptions{LaneBuffer: 10, MaxConcurrent: 8}),
		httpServer: hzServer.Default(hzOpts...),
		timeout:    timeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(gw)
	}

	registerBuiltinCommands(gw.commands)
	gw.initHTTPServer()
	return gw
}

// writeTimeout lets POST /api/scripts/:id/run answer after the longest run
// the runner allows.
func writeTimeout(cfg *config.Config, requestTimeout time.Duration) time.Duration {
	longestRun := defaultMaxScriptRun
	if cfg.Runner.MaxTimeoutSec > 0 {
		longestRun = time.Duration(cfg.Runner.MaxTimeoutSec) * time.Second
	}
	return max(requestTimeout, longestRun+scriptRunSlack)
}

// Start brings up channels, the scheduler (when enabled) and the HTTP
// server. It returns once everything is running.
func (gw *Gateway) Start(ctx context.Context) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	gw.runCtx, gw.runCancel = context.WithCancel(ctx)
	gw.inbound.Init(gw.runCtx, gw.handleInbound)

	if err := gw.initChannels(gw.runCtx, gw.cfg.Channels); err != nil {
		return fmt.Errorf("init channels: %w", err)
	}

	if gw.cfg.Scheduler.IsEnabled() {
		if err := gw.scheduler.Start(gw.runCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		logs.CtxInfo(ctx, "[gateway] scheduler is disabled, use the API or CLI to run cycles")
	}

	if gw.cfg.Server.IsEnabled() {
		go gw.httpServer.Spin()
		gw.started = true
	}
	return nil
}

func (gw *Gateway) Stop(ctx context.Context) error {
	var stopErr error
	gw.stopOnce.Do(func() {
		if err := gw.scheduler.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			logs.CtxWarn(ctx, "[gateway] stop scheduler error: %v", err)
			stopErr = err
		}

		if gw.runCancel != nil {
			gw.runCancel()
		}

		for _, ch := range gw.channels.List() {
			if err := ch.Stop(ctx); err != nil {
				logs.CtxWarn(ctx, "[gateway] stop channel %s error: %v", ch.ID(), err)
			}
			gw.channels.Unregister(ch.ID())
		}

		gw.mu.Lock()
		started := gw.started
		gw.mu.Unlock()
		if started {
			if err := gw.httpServer.Shutdown(ctx); err != nil {
				logs.CtxWarn(ctx, "[gateway] shutdown http server error: %v", err)
			}
		}

		logs.CtxInfo(ctx, "[gateway] all resources stopped")
	})
	return stopErr
}
