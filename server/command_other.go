//go:build !unix

package server

import (
	"os"
	"os/exec"
	"runtime"
)

func configureProcess(cmd *exec.Cmd) {}

func interruptProcess(cmd *exec.Cmd) error {
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}

func killProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
