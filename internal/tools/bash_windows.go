//go:build windows

package tools

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup terminates the child and its descendants via taskkill.
// Best effort; deep grandchild trees may behave differently than POSIX killpg.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = exec.Command("taskkill", "/PID", strconv.Itoa(cmd.Process.Pid), "/F", "/T").Run()
		_ = cmd.Process.Kill()
	}
}
