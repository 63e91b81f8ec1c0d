//go:build windows

package process

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

func KillGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
