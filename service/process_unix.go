//go:build unix

package service

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the shell in its own group so that terminating a task
// also stops the programs it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
