package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/tgifai/taskpilot/internal/config"
)

func TestNewExecutorBuiltins(t *testing.T) {
	for _, name := range []string{"", "local", "LOCAL", "ssh"} {
		e, err := NewExecutor(name, config.RunnerConfig{})
		if err != nil {
			t.Fatalf("NewExecutor(%q) error = %v", name, err)
		}
		if e == nil {
			t.Fatalf("NewExecutor(%q) returned nil", name)
		}
	}
}

func TestNewExecutorUnsupported(t *testing.T) {
	_, err := NewExecutor("docker", config.RunnerConfig{})
	if err == nil || !strings.Contains(err.Error(), "unsupported runner backbone") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewExecutorBadKnownHosts(t *testing.T) {
	_, err := NewExecutor(BackboneSSH, config.RunnerConfig{KnownHostsFile: "/nonexistent/known_hosts"})
	if err == nil {
		t.Fatal("expected error for missing known_hosts file")
	}
}

type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, req *ExecRequest) (*ExecResult, error) {
	return &ExecResult{Stdout: []byte(req.Command.Program)}, nil
}

func TestRegisterBackbone(t *testing.T) {
	if err := RegisterBackbone("", nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := RegisterBackbone("echo-test", nil); err == nil {
		t.Fatal("expected error for nil builder")
	}
	if err := RegisterBackbone("local", func(config.RunnerConfig) (Executor, error) { return echoExecutor{}, nil }); err == nil {
		t.Fatal("expected error for duplicate backbone")
	}

	err := RegisterBackbone("Echo-Test", func(config.RunnerConfig) (Executor, error) { return echoExecutor{}, nil })
	if err != nil {
		t.Fatalf("RegisterBackbone() error = %v", err)
	}
	e, err := NewExecutor("echo-test", config.RunnerConfig{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	res, _ := e.Execute(context.Background(), &ExecRequest{Command: Command{Program: "hello"}})
	if string(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestRemoteCommandLine(t *testing.T) {
	got := remoteCommandLine("/srv/app", Command{
		Program: "python3",
		Args:    []string{"-c", "print('hi')"},
		Env:     []string{`INPUT_DATA={"a":"it's"}`},
	})
	want := `cd '/srv/app' && env 'INPUT_DATA={"a":"it'\''s"}' 'python3' '-c' 'print('\''hi'\'')'`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
	if got := shellQuote(""); got != "''" {
		t.Errorf("shellQuote(\"\") = %s", got)
	}
}
