package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/pkg/markdown"
	"github.com/tgifai/taskpilot/internal/recurrence"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/store"
)

var base = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type sent struct {
	rcpt     dispatch.Recipient
	n        *dispatch.Notification
	channels []channel.Type
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) Notify(_ context.Context, rcpt dispatch.Recipient, n *dispatch.Notification, channels []channel.Type) []dispatch.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{rcpt: rcpt, n: n, channels: channels})
	out := make([]dispatch.DeliveryResult, 0, len(channels))
	for _, c := range channels {
		out = append(out, dispatch.DeliveryResult{Channel: c, Status: store.DeliveryDelivered})
	}
	return out
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, markdown.PlainText(s.n.Message.Content))
	}
	return out
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "scheduler.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestScheduler(t *testing.T, st store.Store, cfg config.SchedulerConfig, opts ...Option) (*Scheduler, *fakeNotifier) {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.MaxConcurrentRuns == 0 {
		cfg.MaxConcurrentRuns = 2
	}
	n := &fakeNotifier{}
	s, err := New(cfg, st, n, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, n
}

func seedUser(t *testing.T, st store.Store, name string) *store.User {
	t.Helper()
	u := &store.User{Name: name, ChatID: "100" + name}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func seedAssistant(t *testing.T, st store.Store, a *store.Assistant) *store.Assistant {
	t.Helper()
	if err := st.CreateAssistant(context.Background(), a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}
	return a
}

func ptr[T any](v T) *T { return &v }

func TestRunCycle_ReminderSentAtMostOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "ada")
	task := &store.Task{UserID: u.ID, Name: "Pay rent", Priority: store.PriorityHigh, DueAt: ptr(base.Add(-5 * time.Minute))}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	later := &store.Task{UserID: u.ID, Name: "Later", DueAt: ptr(base.Add(time.Hour))}
	if err := st.CreateTask(ctx, later); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	for i := 0; i < 2; i++ {
		if err := s.RunCycle(ctx, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RunCycle #%d error = %v", i, err)
		}
	}

	msgs := n.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d notifications, want 1: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "Pay rent") {
		t.Errorf("message = %q", msgs[0])
	}
	if got := n.sent[0].channels; len(got) != 1 || got[0] != channel.Telegram {
		t.Errorf("channels = %v, want default telegram", got)
	}
	if n.sent[0].n.TaskID == nil || *n.sent[0].n.TaskID != task.ID {
		t.Errorf("task id = %v", n.sent[0].n.TaskID)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if !got.NotifySent {
		t.Error("reminder not marked as notified")
	}
}

func TestRunCycle_ReminderUsesAssistantChannels(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "bob")
	a := seedAssistant(t, st, &store.Assistant{UserID: u.ID, Name: "helper", Kind: store.KindReminder, NotifyEmail: true, NotifyWhatsApp: true})
	if err := st.CreateTask(ctx, &store.Task{UserID: u.ID, Name: "Call", DueAt: ptr(base), AssistantID: &a.ID}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(n.sent))
	}
	want := []channel.Type{channel.Email, channel.WhatsApp}
	got := n.sent[0].channels
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("channels = %v, want %v", got, want)
	}
}

func TestRunCycle_AdvancesRecurringAssistant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "cy")
	a := seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "morning", Kind: store.KindReminder,
		Recurrence: recurrence.RuleDaily, NextRunAt: ptr(base.Add(-time.Minute)),
	})
	if err := st.CreateTask(ctx, &store.Task{UserID: u.ID, Name: "Water plants", AssistantID: &a.ID}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	got, err := st.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	want := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %v", got.NextRunAt, want)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(base) {
		t.Errorf("last run = %v, want %v", got.LastRunAt, base)
	}

	msgs := n.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Water plants") {
		t.Fatalf("messages = %q", msgs)
	}

	// Not due again until tomorrow.
	if err := s.RunCycle(ctx, base.Add(time.Minute)); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.messages()) != 1 {
		t.Errorf("assistant fired twice for one occurrence")
	}
}

func TestRunCycle_SkipsMissedOccurrences(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "dee")
	a := seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "ticker", Kind: store.KindReminder,
		Recurrence: recurrence.RuleMinute, NextRunAt: ptr(base.Add(-3 * time.Hour)),
	})

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, err := st.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	if want := base.Add(time.Minute); got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, want)
	}
	if len(n.sent) != 1 {
		t.Errorf("sent %d notifications, want 1", len(n.sent))
	}
}

// snapshotStore serves the due assistants read before any cycle ran, the
// view two overlapping cycles both see.
type snapshotStore struct {
	store.Store
	due []*store.Assistant
}

func (s *snapshotStore) FetchDueAssistants(context.Context, time.Time) ([]*store.Assistant, error) {
	out := make([]*store.Assistant, 0, len(s.due))
	for _, a := range s.due {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func TestRunCycle_OverlappingCyclesFireOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "eve")
	seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "hourly", Kind: store.KindReminder,
		Recurrence: recurrence.RuleHourly, NextRunAt: ptr(base.Add(-time.Minute)),
	})
	due, err := st.FetchDueAssistants(ctx, base)
	if err != nil || len(due) != 1 {
		t.Fatalf("FetchDueAssistants() = %d, %v", len(due), err)
	}

	shared := &snapshotStore{Store: st, due: due}
	serve, n1 := newTestScheduler(t, shared, config.SchedulerConfig{})
	tick, n2 := newTestScheduler(t, shared, config.SchedulerConfig{})
	for _, s := range []*Scheduler{serve, tick} {
		if err := s.RunCycle(ctx, base); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}

	if got := len(n1.sent) + len(n2.sent); got != 1 {
		t.Fatalf("occurrence fired %d times, want 1", got)
	}
}

func TestRunCycle_NormalizesRecurrence(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "fay")
	a := seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "mixed case", Kind: store.KindReminder,
		Recurrence: " Daily", NextRunAt: ptr(base.Add(-time.Minute)),
	})

	s, _ := newTestScheduler(t, st, config.SchedulerConfig{})
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, err := st.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	want := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, want)
	}
}

func TestRunCycle_OnceAssistantFiresOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "eve")
	a := seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "one shot", Kind: store.KindReminder,
		Recurrence: recurrence.RuleOnce, NextRunAt: ptr(base),
	})

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	for i := 0; i < 3; i++ {
		if err := s.RunCycle(ctx, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RunCycle #%d error = %v", i, err)
		}
	}

	got, err := st.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	if got.NextRunAt != nil {
		t.Errorf("next run = %v, want nil", got.NextRunAt)
	}
	msgs := n.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "No pending tasks") {
		t.Errorf("messages = %q", msgs)
	}
}

type panicHandler struct{}

func (panicHandler) Kind() store.AssistantKind       { return "panic" }
func (panicHandler) Handles(a *store.Assistant) bool { return a.Name == "boom" }
func (panicHandler) Fire(context.Context, *store.Assistant, time.Time) (Result, error) {
	panic("handler exploded")
}

func TestRunCycle_IsolatesPanics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "fay")
	boom := seedAssistant(t, st, &store.Assistant{UserID: u.ID, Name: "boom", Kind: store.KindReminder, Recurrence: recurrence.RuleHourly, NextRunAt: ptr(base)})
	seedAssistant(t, st, &store.Assistant{UserID: u.ID, Name: "calm", Kind: store.KindReminder, NextRunAt: ptr(base)})

	s, n := newTestScheduler(t, st, config.SchedulerConfig{}, WithHandler(panicHandler{}))
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	msgs := n.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "calm") {
		t.Fatalf("messages = %q", msgs)
	}
	// The panicking assistant was still advanced before it fired.
	got, err := st.GetAssistant(ctx, boom.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	if want := base.Add(30 * time.Minute); got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, want)
	}
}

type fakeExecutor struct {
	res *runner.ExecResult
}

func (f *fakeExecutor) Execute(context.Context, *runner.ExecRequest) (*runner.ExecResult, error) {
	return f.res, nil
}

func TestRunCycle_ScriptAssistant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "gus")
	script := &store.Script{UserID: u.ID, Name: "backup", Language: store.LangShell, Code: "echo ok"}
	if err := st.CreateScript(ctx, script); err != nil {
		t.Fatalf("CreateScript() error = %v", err)
	}
	seedAssistant(t, st, &store.Assistant{UserID: u.ID, Name: "nightly", Kind: store.KindScript, ScriptID: &script.ID, NextRunAt: ptr(base)})

	exec := &fakeExecutor{res: &runner.ExecResult{Stdout: []byte(`{"result":"42 files"}`)}}
	r, err := runner.New(config.RunnerConfig{}, runner.WithLocalExecutor(exec), runner.WithRemoteExecutor(exec))
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{}, WithRunner(r))
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	recs, err := st.ListExecutions(ctx, script.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Trigger != store.TriggerScheduler || recs[0].Outcome != store.OutcomeSuccess {
		t.Fatalf("records = %+v", recs)
	}
	msgs := n.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "42 files") {
		t.Errorf("messages = %q", msgs)
	}
}

func TestRunCycle_ScriptAssistantTemplate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "hal")
	script := &store.Script{UserID: u.ID, Name: "disk", Language: store.LangShell, Code: "df -h"}
	if err := st.CreateScript(ctx, script); err != nil {
		t.Fatalf("CreateScript() error = %v", err)
	}
	tmpl := &store.NotifyTemplate{UserID: u.ID, Name: "ops", Text: "{script} says {result}"}
	if err := st.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	seedAssistant(t, st, &store.Assistant{
		UserID: u.ID, Name: "disk watch", Kind: store.KindScript,
		ScriptID: &script.ID, TemplateID: &tmpl.ID, NextRunAt: ptr(base),
	})

	exec := &fakeExecutor{res: &runner.ExecResult{Stdout: []byte("71% used")}}
	r, err := runner.New(config.RunnerConfig{}, runner.WithLocalExecutor(exec), runner.WithRemoteExecutor(exec))
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{}, WithRunner(r))
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	msgs := n.messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "disk says 71% used") {
		t.Errorf("messages = %q", msgs)
	}
}

func TestRunCycle_ScriptAssistantWithoutRunner(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "hal")
	seedAssistant(t, st, &store.Assistant{UserID: u.ID, Name: "orphan", Kind: store.KindScript, ScriptID: ptr(int64(99)), NextRunAt: ptr(base)})

	s, n := newTestScheduler(t, st, config.SchedulerConfig{})
	if err := s.RunCycle(ctx, base); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 0 {
		t.Errorf("sent %d notifications, want none", len(n.sent))
	}
}

type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestRunCycle_SkipsWhenStoreDown(t *testing.T) {
	st := newTestStore(t)
	s, n := newTestScheduler(t, downStore{Store: st}, config.SchedulerConfig{})
	err := s.RunCycle(context.Background(), base)
	if err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 0 {
		t.Errorf("sent %d notifications, want none", len(n.sent))
	}
}

type lostGuard struct{}

func (lostGuard) Acquire(context.Context) error { return nil }
func (lostGuard) Release(context.Context) error { return nil }
func (lostGuard) Held() bool                    { return false }

func TestRunCycle_SkipsWithoutGuard(t *testing.T) {
	s, _ := newTestScheduler(t, newTestStore(t), config.SchedulerConfig{}, WithGuard(lostGuard{}))
	if err := s.RunCycle(context.Background(), base); !errors.Is(err, ErrGuardLost) {
		t.Fatalf("RunCycle() error = %v, want ErrGuardLost", err)
	}
}

func TestDailySummary(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "ivy")
	seedUser(t, st, "jon")
	morning := time.Date(2025, 3, 10, 7, 59, 0, 0, time.UTC)
	if err := st.CreateTask(ctx, &store.Task{UserID: u.ID, Name: "Standup", DueAt: ptr(morning.Add(2 * time.Hour))}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := st.CreateTask(ctx, &store.Task{UserID: u.ID, Name: "Tomorrow", DueAt: ptr(morning.Add(26 * time.Hour))}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s, n := newTestScheduler(t, st, config.SchedulerConfig{DailySummary: true})

	// The first cycle only arms the schedule.
	if err := s.RunCycle(ctx, morning); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 0 {
		t.Fatalf("summary sent before 08:00")
	}

	if err := s.RunCycle(ctx, morning.Add(time.Minute)); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 2 {
		t.Fatalf("sent %d summaries, want one per user", len(n.sent))
	}
	byUser := map[int64]string{}
	for _, one := range n.sent {
		byUser[one.rcpt.UserID] = markdown.PlainText(one.n.Message.Content)
	}
	if got := byUser[u.ID]; !strings.Contains(got, "Standup") || strings.Contains(got, "Tomorrow") {
		t.Errorf("summary = %q", got)
	}
	for id, got := range byUser {
		if id != u.ID && !strings.Contains(got, "No tasks due today") {
			t.Errorf("empty summary = %q", got)
		}
	}

	// Once per day.
	if err := s.RunCycle(ctx, morning.Add(2*time.Minute)); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(n.sent) != 2 {
		t.Errorf("summary sent again the same day")
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t, newTestStore(t), config.SchedulerConfig{}, WithInterval(time.Hour))

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() before Start error = %v, want ErrNotRunning", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}

	// Restartable.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

type failingGuard struct{ lostGuard }

func (failingGuard) Acquire(context.Context) error { return errors.New("locked elsewhere") }

func TestStartFailsWithoutGuard(t *testing.T) {
	s, _ := newTestScheduler(t, newTestStore(t), config.SchedulerConfig{}, WithGuard(failingGuard{}))
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start() to fail")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestNew_RejectsBadTimezone(t *testing.T) {
	if _, err := New(config.SchedulerConfig{Timezone: "Mars/Olympus"}, newTestStore(t), &fakeNotifier{}); err == nil {
		t.Fatal("expected timezone error")
	}
}
