package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on pipes held open by orphans after
// the process group was killed.
const waitDelay = 2 * time.Second

type LocalExecutor struct {
	workDir string
}

func NewLocalExecutor(workDir string) *LocalExecutor {
	return &LocalExecutor{
		workDir: workDir,
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if req == nil {
		return nil, fmt.Errorf("exec request is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, req.Command.Program, req.Command.Args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else if e.workDir != "" {
		cmd.Dir = e.workDir
	}
	cmd.Env = append(os.Environ(), req.Command.Env...)
	setCommandProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killCommandProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	stdout := newHeadBuffer(req.MaxOutputBytes)
	stderr := newHeadBuffer(req.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		// Run may return before stray grandchildren die; make sure of it.
		_ = killCommandProcessGroup(cmd)
		return &ExecResult{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			ExitCode: -1,
			TimedOut: true,
		}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecResult{
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			return &ExecResult{
				Stdout: stdout.Bytes(),
				Stderr: stderr.Bytes(),
			}, nil
		}
		return nil, fmt.Errorf("start %s: %w", req.Command.Program, err)
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: 0,
	}, nil
}
