//go:build !unix

package service

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
