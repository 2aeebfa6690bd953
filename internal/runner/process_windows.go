//go:build windows

package runner

import "os/exec"

func setCommandProcessGroup(cmd *exec.Cmd) {
}

func killCommandProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
