package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultDialTimeout = 30 * time.Second

type SSHExecutor struct {
	dialTimeout     time.Duration
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHExecutor verifies host keys against knownHostsFile when set and
// accepts any host key otherwise.
func NewSSHExecutor(knownHostsFile string) (*SSHExecutor, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if strings.TrimSpace(knownHostsFile) != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		callback = cb
	}
	return &SSHExecutor{
		dialTimeout:     defaultDialTimeout,
		hostKeyCallback: callback,
	}, nil
}

func (e *SSHExecutor) Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if req == nil {
		return nil, fmt.Errorf("exec request is required")
	}
	if req.Target == nil {
		return nil, fmt.Errorf("ssh target is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.dial(cmdCtx, req.Target)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	stdout := newHeadBuffer(req.MaxOutputBytes)
	stderr := newHeadBuffer(req.MaxOutputBytes)
	session.Stdout = stdout
	session.Stderr = stderr

	line := remoteCommandLine(req.WorkingDir, req.Command)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err = <-done:
	case <-cmdCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		<-done
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return &ExecResult{
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: -1,
				TimedOut: true,
			}, nil
		}
		return nil, fmt.Errorf("ssh run cancelled: %w", cmdCtx.Err())
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &ExecResult{
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: exitErr.ExitStatus(),
			}, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			return &ExecResult{
				Stdout:   stdout.Bytes(),
				Stderr:   append(stderr.Bytes(), []byte("remote command exited without status")...),
				ExitCode: -1,
			}, nil
		}
		return nil, fmt.Errorf("ssh run: %w", err)
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: 0,
	}, nil
}

func (e *SSHExecutor) dial(ctx context.Context, target *Target) (*ssh.Client, error) {
	auth, err := authMethods(target)
	if err != nil {
		return nil, err
	}

	port := target.Port
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            auth,
		HostKeyCallback: e.hostKeyCallback,
		Timeout:         e.dialTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// The handshake honors the same deadline as the TCP dial.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func authMethods(target *Target) ([]ssh.AuthMethod, error) {
	if strings.TrimSpace(target.PrivateKey) != "" {
		signer, err := ssh.ParsePrivateKey([]byte(target.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if target.Password != "" {
		return []ssh.AuthMethod{ssh.Password(target.Password)}, nil
	}
	return nil, fmt.Errorf("no ssh credentials for %s@%s", target.Username, target.Host)
}

// remoteCommandLine renders the command for a POSIX login shell. Env is
// passed through env(1) because servers commonly reject Setenv requests.
func remoteCommandLine(workDir string, cmd Command) string {
	parts := make([]string, 0, len(cmd.Args)+len(cmd.Env)+2)
	if len(cmd.Env) > 0 {
		parts = append(parts, "env")
		for _, kv := range cmd.Env {
			parts = append(parts, shellQuote(kv))
		}
	}
	parts = append(parts, shellQuote(cmd.Program))
	for _, arg := range cmd.Args {
		parts = append(parts, shellQuote(arg))
	}
	line := strings.Join(parts, " ")
	if workDir != "" {
		line = "cd " + shellQuote(workDir) + " && " + line
	}
	return line
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
