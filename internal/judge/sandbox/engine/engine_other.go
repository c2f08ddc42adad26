//go:build !linux

package engine

import (
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func signaled(state *os.ProcessState) bool {
	return state.ExitCode() == -1
}

func maxRSSKB(state *os.ProcessState) *int64 {
	return nil
}
