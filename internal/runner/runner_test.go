//go:build !windows

package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/store"
)

func newTestRunner(t *testing.T, cfg config.RunnerConfig, opts ...Option) *Runner {
	t.Helper()
	r, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func shellScript(code string) *store.Script {
	return &store.Script{ID: 7, Name: "test", Language: "bash", Code: code}
}

func TestRun_ShellSuccessWithInput(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{})
	rec := r.Run(context.Background(), shellScript(`printf '%s' "$INPUT_DATA"`), Invocation{
		Trigger: store.TriggerScheduler,
		Input:   map[string]any{"x": 1},
	})

	if rec.Outcome != store.OutcomeSuccess || rec.ExitCode != 0 {
		t.Fatalf("outcome = %s exit = %d stderr = %q", rec.Outcome, rec.ExitCode, rec.Stderr)
	}
	if rec.Stdout != `{"x":1}` {
		t.Errorf("stdout = %q, want {\"x\":1}", rec.Stdout)
	}
	if rec.Input != `{"x":1}` || rec.Trigger != store.TriggerScheduler || rec.ScriptID != 7 {
		t.Errorf("record = %+v", rec)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Errorf("ended %v before started %v", rec.EndedAt, rec.StartedAt)
	}
	if rec.ShareToken != "" {
		t.Errorf("share token = %q, want empty", rec.ShareToken)
	}
}

func TestRun_NonZeroExitIsFailed(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{})
	rec := r.Run(context.Background(), shellScript("echo ok; exit 1"), Invocation{})

	if rec.Outcome != store.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", rec.Outcome)
	}
	if rec.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", rec.ExitCode)
	}
	if !strings.Contains(rec.Stdout, "ok") {
		t.Errorf("stdout = %q, want to contain ok", rec.Stdout)
	}
	if rec.Trigger != store.TriggerManual {
		t.Errorf("trigger = %s, want manual", rec.Trigger)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{})
	script := shellScript("sleep 30 & echo $!; wait")

	start := time.Now()
	rec := r.Run(context.Background(), script, Invocation{Timeout: time.Second})
	elapsed := time.Since(start)

	if rec.Outcome != store.OutcomeTimeout {
		t.Fatalf("outcome = %s, want timeout (stderr %q)", rec.Outcome, rec.Stderr)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("run took %s, want about 1s", elapsed)
	}
	if d := rec.Duration(); d < time.Second || d > 10*time.Second {
		t.Errorf("recorded duration = %s", d)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(rec.Stdout))
	if err != nil {
		t.Fatalf("parse child pid from %q: %v", rec.Stdout, err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the timeout", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// processAlive treats zombies as dead; reaping them is the init process's job.
func processAlive(pid int) bool {
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(raw[strings.LastIndexByte(string(raw), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z" && fields[0] != "X"
}

func TestRun_OutputTruncated(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{MaxOutputBytes: 100})
	rec := r.Run(context.Background(), shellScript("head -c 1000 /dev/zero | tr '\\0' a"), Invocation{})

	if rec.Outcome != store.OutcomeSuccess {
		t.Fatalf("outcome = %s, stderr = %q", rec.Outcome, rec.Stderr)
	}
	if !strings.HasSuffix(rec.Stdout, truncatedSuffix) {
		t.Fatalf("stdout missing truncation suffix: %q", rec.Stdout)
	}
	if got := len(rec.Stdout) - len(truncatedSuffix); got != 100 {
		t.Errorf("kept %d bytes, want 100", got)
	}
}

func TestRun_StructuredResult(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{})
	tests := []struct {
		name string
		code string
		want string
	}{
		{"string result", `echo '{"state":"ok","result":"42 items","data":{}}'`, "42 items"},
		{"object result", `echo '{"state":"ok","result":{"n":3}}'`, `{"n":3}`},
		{"plain stdout", `echo "  just text  "`, "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.Run(context.Background(), shellScript(tt.code), Invocation{})
			if rec.Result != tt.want {
				t.Errorf("result = %q, want %q", rec.Result, tt.want)
			}
		})
	}
}

func TestRun_FailedResultFallsBackToStderr(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{})
	rec := r.Run(context.Background(), shellScript("echo boom >&2; exit 2"), Invocation{})
	if rec.Outcome != store.OutcomeFailed || rec.Result != "boom" {
		t.Errorf("outcome = %s result = %q", rec.Outcome, rec.Result)
	}
}

func TestRun_LaunchErrors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.RunnerConfig
		script *store.Script
		want   string
	}{
		{
			name:   "unsupported language",
			script: &store.Script{ID: 1, Language: "cobol", Code: "DISPLAY 'HI'."},
			want:   "unsupported language",
		},
		{
			name:   "missing interpreter",
			cfg:    config.RunnerConfig{ShellBin: "/nonexistent/bash"},
			script: shellScript("echo hi"),
			want:   "/nonexistent/bash",
		},
		{
			name: "nil script",
			want: "script is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.cfg)
			rec := r.Run(context.Background(), tt.script, Invocation{})
			if rec.Outcome != store.OutcomeFailed || rec.ExitCode != -1 {
				t.Fatalf("outcome = %s exit = %d", rec.Outcome, rec.ExitCode)
			}
			if !strings.Contains(rec.Stderr, tt.want) {
				t.Errorf("stderr = %q, want to contain %q", rec.Stderr, tt.want)
			}
		})
	}
}

func TestRun_Python(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	r := newTestRunner(t, config.RunnerConfig{})
	script := &store.Script{ID: 2, Language: store.LangPython, Code: `print(input_data["n"] * 2)`}
	rec := r.Run(context.Background(), script, Invocation{Input: map[string]any{"n": 21}})
	if rec.Outcome != store.OutcomeSuccess || strings.TrimSpace(rec.Stdout) != "42" {
		t.Fatalf("outcome = %s stdout = %q stderr = %q", rec.Outcome, rec.Stdout, rec.Stderr)
	}

	rec = r.Run(context.Background(), &store.Script{ID: 3, Language: "py", Code: `print("ok"); exit(1)`}, Invocation{})
	if rec.Outcome != store.OutcomeFailed || !strings.Contains(rec.Stdout, "ok") {
		t.Errorf("outcome = %s stdout = %q", rec.Outcome, rec.Stdout)
	}
}

func TestRun_JavaScript(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not available")
	}
	r := newTestRunner(t, config.RunnerConfig{})
	script := &store.Script{ID: 4, Language: "js", Code: `console.log(inputData.name.toUpperCase())`}
	rec := r.Run(context.Background(), script, Invocation{Input: map[string]any{"name": "ada"}})
	if rec.Outcome != store.OutcomeSuccess || strings.TrimSpace(rec.Stdout) != "ADA" {
		t.Fatalf("outcome = %s stdout = %q stderr = %q", rec.Outcome, rec.Stdout, rec.Stderr)
	}
}

func TestTimeoutFor(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{DefaultTimeoutSec: 60, MaxTimeoutSec: 300})
	secs := func(n int) *int { return &n }

	tests := []struct {
		name   string
		script *store.Script
		inv    Invocation
		want   time.Duration
	}{
		{"default", &store.Script{}, Invocation{}, 60 * time.Second},
		{"script override", &store.Script{TimeoutSec: secs(5)}, Invocation{}, 5 * time.Second},
		{"clamped", &store.Script{TimeoutSec: secs(1000)}, Invocation{}, 300 * time.Second},
		{"invocation wins", &store.Script{TimeoutSec: secs(5)}, Invocation{Timeout: 2 * time.Second}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.timeoutFor(tt.script, tt.inv); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeExecutor struct {
	req   *ExecRequest
	res   *ExecResult
	err   error
	panic bool
}

func (f *fakeExecutor) Execute(_ context.Context, req *ExecRequest) (*ExecResult, error) {
	f.req = req
	if f.panic {
		panic("boom")
	}
	return f.res, f.err
}

func TestRun_RoutesTargetToRemote(t *testing.T) {
	local := &fakeExecutor{res: &ExecResult{}}
	remote := &fakeExecutor{res: &ExecResult{Stdout: []byte("remote"), ExitCode: 0}}
	r := newTestRunner(t, config.RunnerConfig{}, WithLocalExecutor(local), WithRemoteExecutor(remote))

	target := &Target{Host: "10.0.0.5", Port: 2222, Username: "ops", Password: "pw"}
	rec := r.Run(context.Background(), shellScript("hostname"), Invocation{Target: target})

	if local.req != nil {
		t.Fatal("local executor should not run for a remote target")
	}
	if remote.req == nil || remote.req.Target != target {
		t.Fatalf("remote request = %+v", remote.req)
	}
	if rec.Outcome != store.OutcomeSuccess || rec.Stdout != "remote" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_LocalSettingsStayLocal(t *testing.T) {
	cfg := config.RunnerConfig{WorkDir: "/home/taskpilot/work", PythonBin: "/opt/local/python3.12"}
	script := &store.Script{ID: 9, Name: "py", Language: "python", Code: "print(1)"}

	tests := []struct {
		name        string
		target      *Target
		wantDir     string
		wantProgram string
	}{
		{"local", nil, "/home/taskpilot/work", "/opt/local/python3.12"},
		{"remote", &Target{Host: "10.0.0.5", Port: 22, Username: "ops", Password: "pw"}, "", "python3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &fakeExecutor{res: &ExecResult{}}
			remote := &fakeExecutor{res: &ExecResult{}}
			r := newTestRunner(t, cfg, WithLocalExecutor(local), WithRemoteExecutor(remote))
			r.Run(context.Background(), script, Invocation{Target: tt.target})

			req := local.req
			if tt.target != nil {
				req = remote.req
			}
			if req == nil {
				t.Fatal("executor not called")
			}
			if req.WorkingDir != tt.wantDir {
				t.Errorf("working dir = %q, want %q", req.WorkingDir, tt.wantDir)
			}
			if req.Command.Program != tt.wantProgram {
				t.Errorf("program = %q, want %q", req.Command.Program, tt.wantProgram)
			}
		})
	}
}

func TestRun_ExecutorErrorAndPanic(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{}, WithLocalExecutor(&fakeExecutor{err: errors.New("dial tcp: refused")}))
	rec := r.Run(context.Background(), shellScript("true"), Invocation{})
	if rec.Outcome != store.OutcomeFailed || !strings.Contains(rec.Stderr, "refused") {
		t.Errorf("record = %+v", rec)
	}

	r = newTestRunner(t, config.RunnerConfig{}, WithLocalExecutor(&fakeExecutor{panic: true}))
	rec = r.Run(context.Background(), shellScript("true"), Invocation{})
	if rec.Outcome != store.OutcomeFailed || !strings.Contains(rec.Stderr, "runner panic") {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_ShareToken(t *testing.T) {
	r := newTestRunner(t, config.RunnerConfig{ShareTokens: true}, WithLocalExecutor(&fakeExecutor{res: &ExecResult{}}))
	rec := r.Run(context.Background(), shellScript("true"), Invocation{})
	if len(rec.ShareToken) != shareTokenLength {
		t.Errorf("share token = %q", rec.ShareToken)
	}
}

func TestRunAndRecord(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "runner.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer st.Close()

	user := &store.User{Name: "ada"}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	srv := &store.SSHServer{UserID: user.ID, Host: "192.0.2.1", Username: "ops", Password: "x", Active: false}
	if err := st.CreateSSHServer(ctx, srv); err != nil {
		t.Fatalf("CreateSSHServer() error = %v", err)
	}
	local := &store.Script{UserID: user.ID, Name: "local", Language: store.LangShell, Code: "echo hi"}
	remote := &store.Script{UserID: user.ID, Name: "remote", Language: store.LangShell, Code: "echo hi", SSHServerID: &srv.ID}
	for _, one := range []*store.Script{local, remote} {
		if err := st.CreateScript(ctx, one); err != nil {
			t.Fatalf("CreateScript() error = %v", err)
		}
	}

	r := newTestRunner(t, config.RunnerConfig{})

	rec, err := RunAndRecord(ctx, r, st, local, Invocation{})
	if err != nil {
		t.Fatalf("RunAndRecord(local) error = %v", err)
	}
	if rec.ID == 0 || rec.Outcome != store.OutcomeSuccess {
		t.Errorf("local record = %+v", rec)
	}

	rec, err = RunAndRecord(ctx, r, st, remote, Invocation{})
	if err != nil {
		t.Fatalf("RunAndRecord(remote) error = %v", err)
	}
	if rec.Outcome != store.OutcomeFailed || !strings.Contains(rec.Stderr, "inactive") {
		t.Errorf("remote record = %+v", rec)
	}

	for _, one := range []*store.Script{local, remote} {
		recs, err := st.ListExecutions(ctx, one.ID, 10)
		if err != nil {
			t.Fatalf("ListExecutions() error = %v", err)
		}
		if len(recs) != 1 {
			t.Errorf("script %s has %d records, want 1", one.Name, len(recs))
		}
	}
}
