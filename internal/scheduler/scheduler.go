// Package scheduler runs the background polling loop: due reminders are
// claimed and dispatched, due assistants are advanced and fired.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/robfig/cron/v3"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/instance"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/store"
)

const (
	DefaultInterval = time.Minute

	// reminderLookahead picks up reminders due before the next cycle starts.
	reminderLookahead = time.Minute

	summarySpec = "0 8 * * *"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	// ErrGuardLost means another instance took over the scheduler lock.
	ErrGuardLost = errors.New("instance guard not held")
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Notifier delivers a notification on a set of channels.
type Notifier interface {
	Notify(ctx context.Context, rcpt dispatch.Recipient, n *dispatch.Notification, channels []channel.Type) []dispatch.DeliveryResult
}

type Scheduler struct {
	store           store.Store
	notifier        Notifier
	guard           instance.Guard
	handlers        []Handler
	loc             *time.Location
	defaultChannels []channel.Type
	interval        time.Duration
	now             func() time.Time
	pool            gopool.Pool
	workers         int

	dailySummary bool
	summary      cron.Schedule
	nextSummary  time.Time

	state   atomic.Int32
	cycleMu sync.Mutex // one cycle at a time, loop or manual
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Scheduler)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithGuard(g instance.Guard) Option {
	return func(s *Scheduler) { s.guard = g }
}

// WithRunner enables the script assistant handler.
func WithRunner(r *runner.Runner) Option {
	return func(s *Scheduler) {
		s.handlers = append(s.handlers, &scriptHandler{store: s.store, runner: r, loc: s.loc})
	}
}

// WithHandler registers an extra handler. Handlers are consulted in
// registration order and built-ins come last.
func WithHandler(h Handler) Option {
	return func(s *Scheduler) { s.handlers = append(s.handlers, h) }
}

func New(cfg config.SchedulerConfig, st store.Store, notifier Notifier, opts ...Option) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	summary, err := cron.ParseStandard(summarySpec)
	if err != nil {
		return nil, fmt.Errorf("parse summary schedule: %w", err)
	}

	s := &Scheduler{
		store:           st,
		notifier:        notifier,
		guard:           instance.Noop{},
		loc:             loc,
		defaultChannels: dispatch.ParseChannels(cfg.DefaultChannels),
		interval:        DefaultInterval,
		now:             time.Now,
		dailySummary:    cfg.DailySummary,
		summary:         summary,
	}
	if len(s.defaultChannels) == 0 {
		s.defaultChannels = []channel.Type{channel.Telegram}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = append(s.handlers, &reminderHandler{store: st, loc: loc})

	s.workers = max(cfg.MaxConcurrentRuns, 1)
	s.pool = gopool.NewPool("taskpilot-assistants", int32(s.workers), gopool.NewConfig())
	return s, nil
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start launches the polling worker and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	if err := s.guard.Acquire(ctx); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("acquire instance guard: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go s.loop(runCtx, done)

	logs.CtxInfo(ctx, "[scheduler] started (interval=%s, timezone=%s, workers=%d)", s.interval, s.loc, s.workers)
	return nil
}

// Stop prevents new cycles from starting and waits, bounded by ctx, for the
// cycle in flight. A running script is never interrupted: if ctx expires
// first the scheduler stays in the stopping state until the cycle ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	cancel()

	finish := func() {
		if err := s.guard.Release(context.Background()); err != nil {
			logs.Warn("[scheduler] release instance guard: %v", err)
		}
		s.state.Store(int32(StateStopped))
		logs.Info("[scheduler] stopped")
	}

	select {
	case <-done:
		finish()
		return nil
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[scheduler] stop timed out waiting for the running cycle")
		go func() {
			<-done
			finish()
		}()
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// Cycles are detached so Stop never cuts a script short.
		_ = s.RunCycle(context.WithoutCancel(ctx), s.now())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// RunCycle performs one polling pass at time now. It returns an error when
// the cycle was skipped or cut short; per-job failures are only logged.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx = logs.WithNewLogID(ctx)

	if !s.guard.Held() {
		prometheus.SchedulerCycles.WithLabelValues("skipped").Inc()
		logs.CtxError(ctx, "[scheduler] cycle skipped: %v", ErrGuardLost)
		return ErrGuardLost
	}
	if err := s.store.Ping(ctx); err != nil {
		prometheus.SchedulerCycles.WithLabelValues("skipped").Inc()
		logs.CtxWarn(ctx, "[scheduler] store unavailable, cycle skipped: %v", err)
		return fmt.Errorf("store unavailable: %w", err)
	}

	if err := s.processReminders(ctx, now); err != nil {
		prometheus.SchedulerCycles.WithLabelValues("error").Inc()
		logs.CtxWarn(ctx, "[scheduler] cycle aborted: %v", err)
		return err
	}
	if err := s.processAssistants(ctx, now); err != nil {
		prometheus.SchedulerCycles.WithLabelValues("error").Inc()
		logs.CtxWarn(ctx, "[scheduler] cycle aborted: %v", err)
		return err
	}
	s.maybeSendSummaries(ctx, now)

	prometheus.SchedulerCycles.WithLabelValues("ok").Inc()
	return nil
}

// protect is the per-job fault boundary.
func protect(ctx context.Context, what string, id int64, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logs.CtxError(ctx, "[scheduler] %s %d panicked: %v", what, id, p)
		}
	}()
	fn()
}

func (s *Scheduler) recipient(ctx context.Context, userID int64) (dispatch.Recipient, bool) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		logs.CtxWarn(ctx, "[scheduler] load user %d: %v", userID, err)
		return dispatch.Recipient{}, false
	}
	return dispatch.RecipientFor(u), true
}

func (s *Scheduler) channelsFor(a *store.Assistant) []channel.Type {
	if a != nil {
		if chans := dispatch.ParseChannels(a.Channels()); len(chans) > 0 {
			return chans
		}
	}
	return s.defaultChannels
}

func summarize(results []dispatch.DeliveryResult) string {
	var out string
	for i, r := range results {
		if i > 0 {
			out += ","
		}
		out += string(r.Channel) + "=" + string(r.Status)
	}
	return out
}
