package runner

import (
	"context"
	"time"
)

type Command struct {
	Program string
	Args    []string
	// Env holds KEY=VALUE pairs added to the child environment.
	Env []string
}

// Target is a resolved remote host. A nil target means local execution.
type Target struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
}

type ExecRequest struct {
	WorkingDir     string
	Timeout        time.Duration
	MaxOutputBytes int
	Command        Command
	Target         *Target
}

type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
}

// Executor runs one command. A returned error means the command could not
// be launched; a non-zero exit is reported through ExecResult.
type Executor interface {
	Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error)
}
