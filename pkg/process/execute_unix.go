//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes starts the child in a new process group,
// so signalling -pid reaches the interpreter and everything it spawned
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
