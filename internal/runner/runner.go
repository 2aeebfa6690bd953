package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/pkg/utils"
	"github.com/tgifai/taskpilot/internal/store"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxTimeout     = 300 * time.Second
	defaultMaxOutputBytes = 100000

	shareTokenLength = 32
	maxResultLen     = 1000

	inputEnvKey = "INPUT_DATA"
)

const (
	pythonPrelude = "import json as __json, os as __os\n" +
		"input_data = __json.loads(__os.environ.get(\"INPUT_DATA\") or \"{}\")\n"
	javascriptPrelude = "const inputData = JSON.parse(process.env.INPUT_DATA || \"{}\");\n"
)

// Invocation carries the per-run parameters of a script.
type Invocation struct {
	Trigger store.Trigger
	Input   map[string]any
	// Timeout overrides the script and default timeouts when positive.
	Timeout time.Duration
	Target  *Target
}

type Runner struct {
	cfg    config.RunnerConfig
	local  Executor
	remote Executor
	now    func() time.Time
}

type Option func(*Runner)

func WithLocalExecutor(e Executor) Option {
	return func(r *Runner) { r.local = e }
}

func WithRemoteExecutor(e Executor) Option {
	return func(r *Runner) { r.remote = e }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(cfg config.RunnerConfig, opts ...Option) (*Runner, error) {
	r := &Runner{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	if r.local == nil {
		e, err := NewExecutor(BackboneLocal, cfg)
		if err != nil {
			return nil, err
		}
		r.local = e
	}
	if r.remote == nil {
		e, err := NewExecutor(BackboneSSH, cfg)
		if err != nil {
			return nil, err
		}
		r.remote = e
	}
	return r, nil
}

// Run executes script once and returns its execution record. It never
// returns an error: launch failures and panics become failed records.
func (r *Runner) Run(ctx context.Context, script *store.Script, inv Invocation) (rec *store.ExecutionRecord) {
	rec = r.newRecord(script, inv)
	target := targetLabel(inv.Target)

	defer func() {
		if p := recover(); p != nil {
			r.fail(rec, fmt.Sprintf("runner panic: %v", p))
		}
		r.finish(ctx, script, rec, target)
	}()

	if script == nil {
		r.fail(rec, "script is required")
		return rec
	}

	input, err := encodeInput(inv.Input)
	if err != nil {
		r.fail(rec, err.Error())
		return rec
	}
	if len(inv.Input) > 0 {
		rec.Input = input
	}

	remote := inv.Target != nil
	cmd, err := r.buildCommand(script, input, remote)
	if err != nil {
		r.fail(rec, err.Error())
		return rec
	}

	executor, workDir := r.local, r.cfg.WorkDir
	if remote {
		executor, workDir = r.remote, ""
	}

	res, err := executor.Execute(ctx, &ExecRequest{
		WorkingDir:     workDir,
		Timeout:        r.timeoutFor(script, inv),
		MaxOutputBytes: r.maxOutput(),
		Command:        cmd,
		Target:         inv.Target,
	})
	rec.EndedAt = r.now()
	if err != nil {
		r.fail(rec, err.Error())
		return rec
	}

	rec.Stdout = string(res.Stdout)
	rec.Stderr = string(res.Stderr)
	rec.ExitCode = res.ExitCode
	switch {
	case res.TimedOut:
		rec.Outcome = store.OutcomeTimeout
	case res.ExitCode == 0:
		rec.Outcome = store.OutcomeSuccess
	default:
		rec.Outcome = store.OutcomeFailed
	}
	rec.Result = extractResult(rec)
	return rec
}

// Reject produces a failed record for a run that could not be attempted.
func (r *Runner) Reject(ctx context.Context, script *store.Script, inv Invocation, reason string) *store.ExecutionRecord {
	rec := r.newRecord(script, inv)
	r.fail(rec, reason)
	r.finish(ctx, script, rec, targetLabel(inv.Target))
	return rec
}

// ----- internal -----

func (r *Runner) newRecord(script *store.Script, inv Invocation) *store.ExecutionRecord {
	rec := &store.ExecutionRecord{
		Trigger:   inv.Trigger,
		StartedAt: r.now(),
	}
	if rec.Trigger == "" {
		rec.Trigger = store.TriggerManual
	}
	if script != nil {
		rec.ScriptID = script.ID
	}
	return rec
}

func (r *Runner) fail(rec *store.ExecutionRecord, msg string) {
	if rec.EndedAt.IsZero() {
		rec.EndedAt = r.now()
	}
	rec.Outcome = store.OutcomeFailed
	rec.ExitCode = -1
	if rec.Stderr != "" && !strings.HasSuffix(rec.Stderr, "\n") {
		rec.Stderr += "\n"
	}
	rec.Stderr += msg
	rec.Result = utils.Truncate(msg, maxResultLen)
}

func (r *Runner) finish(ctx context.Context, script *store.Script, rec *store.ExecutionRecord, target string) {
	if rec.EndedAt.Before(rec.StartedAt) {
		rec.EndedAt = rec.StartedAt
	}
	if rec.Outcome == "" {
		rec.Outcome = store.OutcomeFailed
	}
	if r.cfg.ShareTokens {
		rec.ShareToken = utils.RandStr(shareTokenLength)
	}

	prometheus.ScriptRuns.WithLabelValues(target, string(rec.Outcome)).Inc()
	prometheus.ScriptDuration.WithLabelValues(target).Observe(rec.Duration().Seconds())

	name := ""
	if script != nil {
		name = script.Name
	}
	if rec.Outcome == store.OutcomeSuccess {
		logs.CtxInfo(ctx, "[runner] script %d (%s) on %s finished in %s", rec.ScriptID, name, target, rec.Duration())
		return
	}
	logs.CtxWarn(ctx, "[runner] script %d (%s) on %s %s, exit=%d: %s",
		rec.ScriptID, name, target, rec.Outcome, rec.ExitCode, utils.Truncate(utils.FirstLine(rec.Stderr), 200))
}

// buildCommand picks the interpreter. Configured binaries are local paths;
// remote runs use the interpreter names found on the target's PATH.
func (r *Runner) buildCommand(script *store.Script, input string, remote bool) (Command, error) {
	lang, ok := store.NormalizeLanguage(string(script.Language))
	if !ok {
		return Command{}, fmt.Errorf("unsupported language: %s", script.Language)
	}

	bin := func(configured, def string) string {
		if remote {
			return def
		}
		return orDefault(configured, def)
	}

	env := []string{inputEnvKey + "=" + input}
	switch lang {
	case store.LangPython:
		return Command{Program: bin(r.cfg.PythonBin, "python3"), Args: []string{"-c", pythonPrelude + script.Code}, Env: env}, nil
	case store.LangJavaScript:
		return Command{Program: bin(r.cfg.NodeBin, "node"), Args: []string{"-e", javascriptPrelude + script.Code}, Env: env}, nil
	default:
		return Command{Program: bin(r.cfg.ShellBin, "bash"), Args: []string{"-c", script.Code}, Env: env}, nil
	}
}

func (r *Runner) timeoutFor(script *store.Script, inv Invocation) time.Duration {
	timeout := defaultTimeout
	if r.cfg.DefaultTimeoutSec > 0 {
		timeout = time.Duration(r.cfg.DefaultTimeoutSec) * time.Second
	}
	if script.TimeoutSec != nil && *script.TimeoutSec > 0 {
		timeout = time.Duration(*script.TimeoutSec) * time.Second
	}
	if inv.Timeout > 0 {
		timeout = inv.Timeout
	}

	limit := defaultMaxTimeout
	if r.cfg.MaxTimeoutSec > 0 {
		limit = time.Duration(r.cfg.MaxTimeoutSec) * time.Second
	}
	return min(timeout, limit)
}

func (r *Runner) maxOutput() int {
	if r.cfg.MaxOutputBytes > 0 {
		return r.cfg.MaxOutputBytes
	}
	return defaultMaxOutputBytes
}

func encodeInput(input map[string]any) (string, error) {
	if len(input) == 0 {
		return "{}", nil
	}
	raw, err := sonic.MarshalString(input)
	if err != nil {
		return "", fmt.Errorf("encode input data: %w", err)
	}
	return raw, nil
}

// scriptOutput is the optional structured stdout of a script.
type scriptOutput struct {
	State  string `json:"state"`
	Result any    `json:"result"`
	Data   any    `json:"data"`
}

func extractResult(rec *store.ExecutionRecord) string {
	out := strings.TrimSpace(rec.Stdout)
	if strings.HasPrefix(out, "{") {
		var parsed scriptOutput
		if err := sonic.UnmarshalString(out, &parsed); err == nil && parsed.Result != nil {
			if s, ok := parsed.Result.(string); ok {
				return utils.Truncate(s, maxResultLen)
			}
			if raw, err := sonic.MarshalString(parsed.Result); err == nil {
				return utils.Truncate(raw, maxResultLen)
			}
		}
	}
	if out == "" && rec.Outcome != store.OutcomeSuccess {
		out = strings.TrimSpace(rec.Stderr)
	}
	return utils.Truncate(out, maxResultLen)
}

func targetLabel(t *Target) string {
	if t == nil {
		return BackboneLocal
	}
	return BackboneSSH
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
